package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"griefwatch.dev/internal/config"
	"griefwatch.dev/internal/persistence/snapshot"
)

func ledgerCmd(args []string) {
	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	session := fs.String("session", "", "session id (default: list snapshots)")
	path := fs.String("snapshot", "", "snapshot path (overrides -session)")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*path)
	if p == "" && strings.TrimSpace(*session) == "" {
		files, err := snapshot.List(*dataDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		for _, f := range files {
			h, err := snapshot.ReadHeader(f)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(f), err)
				continue
			}
			size := ""
			if st, err := os.Stat(f); err == nil {
				size = humanize.Bytes(uint64(st.Size()))
			}
			fmt.Printf("%s ended=%-14s locations=%s actors=%s size=%s\n",
				h.Session, humanize.Time(h.Time), humanize.Comma(int64(h.Locations)), humanize.Comma(int64(h.Actors)), size)
		}
		return
	}
	if p == "" {
		var err error
		p, err = snapshot.Find(*dataDir, strings.TrimSpace(*session))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	snap, err := snapshot.ReadLedger(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(snap)
}

func settingsCmd(args []string) {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	path := fs.String("settings", "", "settings file (default: <data>/settings.yaml)")
	baseURL := fs.String("url", "", "apply to a running griefwatchd instead of the file (e.g. http://127.0.0.1:8080)")
	secret := fs.String("secret", "", "admin HMAC secret for -url (or set GW_ADMIN_SECRET)")
	_ = fs.Parse(args)

	if u := strings.TrimSpace(*baseURL); u != "" {
		switch fs.NArg() {
		case 0:
			adminRequest(http.MethodGet, u, "/admin/v1/state", nil, *secret)
		case 2:
			v, err := config.ParseBool(fs.Arg(1))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
			body, _ := json.Marshal(map[string]any{"name": fs.Arg(0), "value": v})
			adminRequest(http.MethodPost, u, "/admin/v1/settings", body, *secret)
		default:
			fmt.Fprintln(os.Stderr, "usage: griefadmin settings -url <base> [<name> <on|off>]")
			os.Exit(2)
		}
		return
	}

	p := strings.TrimSpace(*path)
	if p == "" {
		p = filepath.Join(*dataDir, "settings.yaml")
	}
	s, err := config.OpenSettings(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open settings:", err)
		os.Exit(1)
	}

	switch fs.NArg() {
	case 0:
		vals := s.Values()
		for _, name := range config.SettingNames {
			fmt.Printf("%-12s %v\n", name, vals[name])
		}
	case 2:
		v, err := config.ParseBool(fs.Arg(1))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		if err := s.Set(fs.Arg(0), v); err != nil {
			fmt.Fprintln(os.Stderr, "set:", err)
			os.Exit(1)
		}
		fmt.Printf("%s = %v (%s); a running griefwatchd reads it on restart, use -url to apply live\n", fs.Arg(0), v, s.Path())
	default:
		fmt.Fprintln(os.Stderr, "usage: griefadmin settings [flags] [<name> <on|off>]")
		os.Exit(2)
	}
}
