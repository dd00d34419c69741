package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"griefwatch.dev/internal/adminauth"
	"griefwatch.dev/internal/detect/alert"
	"griefwatch.dev/internal/detect/ledger"
	"griefwatch.dev/internal/persistence/indexdb"
	persistlog "griefwatch.dev/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "alerts":
			alertsCmd(os.Args[2:])
			return
		case "actor":
			actorCmd(os.Args[2:])
			return
		case "location":
			locationCmd(os.Args[2:])
			return
		case "undo":
			undoCmd(os.Args[2:])
			return
		case "ledger":
			ledgerCmd(os.Args[2:])
			return
		case "sessions":
			sessionsCmd(os.Args[2:])
			return
		case "bans":
			bansCmd(os.Args[2:])
			return
		case "settings":
			settingsCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: griefadmin <alerts|actor|location|undo|ledger|sessions|bans|settings|state> [flags]")
	os.Exit(2)
}

type dbFlags struct {
	dataDir *string
	dbPath  *string
	limit   *int
	asJSON  *bool
}

func addDBFlags(fs *flag.FlagSet) dbFlags {
	return dbFlags{
		dataDir: fs.String("data", "./data", "runtime data directory"),
		dbPath:  fs.String("db", "", "sqlite db path (default: <data>/index/griefwatch.sqlite)"),
		limit:   fs.Int("limit", 50, "result limit"),
		asJSON:  fs.Bool("json", false, "print one JSON object per line"),
	}
}

func (f dbFlags) open() *indexdb.Reader {
	path := strings.TrimSpace(*f.dbPath)
	if path == "" {
		path = filepath.Join(*f.dataDir, "index", "griefwatch.sqlite")
	}
	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return r
}

func alertsCmd(args []string) {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	df := addDBFlags(fs)
	actor := fs.Int("actor", 0, "actor id filter")
	rule := fs.String("rule", "", "rule filter (e.g. reactor_proximity)")
	severity := fs.String("severity", "", "severity filter (debug|verbose|notice|warning|autoban)")
	since := fs.Duration("since", 0, "only alerts newer than this (e.g. 2h)")
	fromLogs := fs.Bool("from_logs", false, "read the zstd alert ledger instead of sqlite")
	_ = fs.Parse(args)

	var recs []alert.Record
	var err error
	if *fromLogs {
		cutoff := sinceTime(*since)
		recs, err = persistlog.ReadAlerts(*df.dataDir, func(r alert.Record) bool {
			return (*actor == 0 || r.Actor == *actor) &&
				(*rule == "" || r.Rule == *rule) &&
				(*severity == "" || r.Severity == *severity) &&
				!r.Time.Before(cutoff)
		})
		if len(recs) > *df.limit && *df.limit > 0 {
			recs = recs[len(recs)-*df.limit:]
		}
	} else {
		r := df.open()
		defer r.Close()
		recs, err = r.RecentAlerts(context.Background(), indexdb.AlertQuery{
			Limit:    *df.limit,
			Actor:    *actor,
			Rule:     *rule,
			Severity: *severity,
			Since:    sinceTime(*since),
		})
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "alerts:", err)
		os.Exit(1)
	}
	for _, a := range recs {
		if *df.asJSON {
			printJSON(a)
			continue
		}
		where := "-"
		if a.HasPos {
			where = fmt.Sprintf("(%d, %d)", a.X, a.Y)
		}
		fmt.Printf("%-14s %-8s %-22s actor=%-6d %-12s %s\n",
			humanize.Time(a.Time), a.Severity, a.Rule, a.Actor, where, stripMarkup(a.Message))
	}
	fmt.Fprintf(os.Stderr, "%s alerts\n", humanize.Comma(int64(len(recs))))
}

func actorCmd(args []string) {
	fs := flag.NewFlagSet("actor", flag.ExitOnError)
	df := addDBFlags(fs)
	since := fs.Duration("since", 0, "only interactions newer than this (e.g. 30m)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: griefadmin actor [flags] <actor id>")
		os.Exit(2)
	}
	id, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad actor id:", err)
		os.Exit(2)
	}

	r := df.open()
	defer r.Close()
	ents, err := r.ActorInteractions(context.Background(), id, sinceTime(*since), *df.limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printEntries(ents, *df.asJSON)
}

func locationCmd(args []string) {
	fs := flag.NewFlagSet("location", flag.ExitOnError)
	df := addDBFlags(fs)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: griefadmin location [flags] <x,y>")
		os.Exit(2)
	}
	x, y, err := parseXY(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad location:", err)
		os.Exit(2)
	}

	r := df.open()
	defer r.Close()
	ents, err := r.LocationInteractions(context.Background(), x, y, *df.limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	printEntries(ents, *df.asJSON)
}

func sessionsCmd(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	df := addDBFlags(fs)
	_ = fs.Parse(args)

	r := df.open()
	defer r.Close()
	rows, err := r.Sessions(context.Background(), *df.limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, s := range rows {
		if *df.asJSON {
			printJSON(s)
			continue
		}
		ended := "running"
		if !s.EndedAt.IsZero() {
			ended = humanize.Time(s.EndedAt)
		}
		fmt.Printf("%s role=%-11s started=%-14s ended=%-14s locations=%s actors=%s\n",
			s.ID, s.Role, humanize.Time(s.StartedAt), ended,
			humanize.Comma(int64(s.Locations)), humanize.Comma(int64(s.Actors)))
	}
}

func bansCmd(args []string) {
	fs := flag.NewFlagSet("bans", flag.ExitOnError)
	df := addDBFlags(fs)
	_ = fs.Parse(args)

	r := df.open()
	defer r.Close()
	rows, err := r.Bans(context.Background(), *df.limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, b := range rows {
		if *df.asJSON {
			printJSON(b)
			continue
		}
		fmt.Printf("%-14s actor=%d name=%q by=%d reason=%q\n", humanize.Time(b.Time), b.Actor, b.Name, b.Invoker, b.Reason)
	}
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "griefwatchd base url")
	secret := fs.String("secret", "", "admin HMAC secret (or set GW_ADMIN_SECRET)")
	_ = fs.Parse(args)

	adminRequest(http.MethodGet, *baseURL, "/admin/v1/state", nil, *secret)
}

// adminRequest calls a daemon admin endpoint, signing it when a secret is known, and
// prints the response body. Non-2xx responses exit 1.
func adminRequest(method, baseURL, path string, body []byte, secret string) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(2)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s := strings.TrimSpace(secret)
	if s == "" {
		s = strings.TrimSpace(os.Getenv("GW_ADMIN_SECRET"))
	}
	if s != "" {
		adminauth.Sign(req, body, []byte(s), time.Now())
	}
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func printEntries(ents []ledger.Entry, asJSON bool) {
	for _, e := range ents {
		if asJSON {
			printJSON(e)
			continue
		}
		fmt.Printf("%-14s actor=%-6d (%d, %d) %s\n", humanize.Time(e.Time), e.Actor, e.X, e.Y, describe(e))
	}
}

func describe(e ledger.Entry) string {
	switch e.Kind {
	case ledger.KindBuild:
		if e.Previous != "" {
			return fmt.Sprintf("built %s (replacing %s)", e.Block, e.Previous)
		}
		return "built " + e.Block
	case ledger.KindDeconstruct:
		return "deconstructed " + e.Block
	case ledger.KindConfigure:
		if e.OldValue != nil && e.NewValue != nil {
			return fmt.Sprintf("configured %s %d -> %d", e.Block, *e.OldValue, *e.NewValue)
		}
		if e.NewValue != nil {
			return fmt.Sprintf("configured %s -> %d", e.Block, *e.NewValue)
		}
		return "configured " + e.Block
	case ledger.KindRotate:
		if e.Rotation > 0 {
			return "rotated " + e.Block + " clockwise"
		}
		return "rotated " + e.Block + " counter-clockwise"
	case ledger.KindDeposit:
		return fmt.Sprintf("deposited %s %s into %s", humanize.Comma(int64(e.Amount)), e.Item, e.Block)
	case ledger.KindMessage:
		return fmt.Sprintf("edited message: %q", e.Text)
	}
	return e.Kind
}

func sinceTime(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-d)
}

func parseXY(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected x,y")
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

// stripMarkup drops [colour] tags for terminal output.
func stripMarkup(s string) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '[')
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i:], ']')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		s = s[i+j+1:]
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
