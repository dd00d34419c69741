package protocol

// HELLO (host -> detector)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Role            string `json:"role"`
	LocalTeam       int    `json:"local_team,omitempty"`
	LocalActor      int    `json:"local_actor,omitempty"`
	HostName        string `json:"host_name,omitempty"`
	Token           string `json:"token,omitempty"`
}

// WELCOME (detector -> host)
type WelcomeMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Session         string          `json:"session"`
	Settings        map[string]bool `json:"settings"`
	Catalogs        CatalogDigests  `json:"catalogs"`
}

type CatalogDigests struct {
	Blocks  string `json:"blocks"`
	Items   string `json:"items"`
	Liquids string `json:"liquids"`
}

// STATE (host -> detector): mirror updates, applied in order.
type StateMsg struct {
	Type string    `json:"type"`
	Seq  uint64    `json:"seq,omitempty"`
	Ops  []StateOp `json:"ops"`
}

// State op names.
const (
	OpMapLoad    = "map_load"
	OpPlace      = "place"
	OpRemove     = "remove"
	OpLiquid     = "liquid"
	OpCores      = "cores"
	OpActor      = "actor"
	OpActorLeave = "actor_leave"
)

type StateOp struct {
	Op     string     `json:"op"`
	Width  int        `json:"width,omitempty"`
	Height int        `json:"height,omitempty"`
	X      int        `json:"x,omitempty"`
	Y      int        `json:"y,omitempty"`
	Block  string     `json:"block,omitempty"`
	Liquid string     `json:"liquid,omitempty"`
	Team   int        `json:"team,omitempty"`
	Cores  [][2]int   `json:"cores,omitempty"`
	Actor  *ActorInfo `json:"actor,omitempty"`
}

type ActorInfo struct {
	ID    int    `json:"id"`
	Name  string `json:"name,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	Team  int    `json:"team,omitempty"`
}

// EVENT (host -> detector). Which fields are set depends on Kind.
type EventMsg struct {
	Type      string  `json:"type"`
	Kind      string  `json:"kind"`
	Actor     int     `json:"actor,omitempty"`
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Block     string  `json:"block,omitempty"`
	Previous  string  `json:"previous,omitempty"`
	Item      string  `json:"item,omitempty"`
	Amount    int     `json:"amount,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	Value     int32   `json:"value,omitempty"`
	OldValue  *int32  `json:"old_value,omitempty"`
	Clockwise bool    `json:"clockwise,omitempty"`
	OldSize   int     `json:"old_size,omitempty"`
	NewA      int     `json:"new_a,omitempty"`
	NewB      int     `json:"new_b,omitempty"`
	Heat      float64 `json:"heat,omitempty"`
	Session   string  `json:"session,omitempty"`
	Text      string  `json:"text,omitempty"`
}

// SET_OPTION (host -> detector)
type SetOptionMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// AUTOBAN (host -> detector)
type AutobanMsg struct {
	Type    string `json:"type"`
	ReqID   string `json:"req_id,omitempty"`
	Invoker int    `json:"invoker"`
	Target  int    `json:"target"`
	Reason  string `json:"reason,omitempty"`
}

// INSPECT (host -> detector)
type InspectMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"req_id,omitempty"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	// HUD asks for the tile-info overlay text instead of the full inspection.
	HUD bool `json:"hud,omitempty"`
}

// CHAT and DISPLAY (detector -> host)
type TextMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// BAN (detector -> host)
type BanMsg struct {
	Type  string `json:"type"`
	Actor int    `json:"actor"`
}

// INSPECT_RESULT (detector -> host)
type InspectResultMsg struct {
	Type  string   `json:"type"`
	ReqID string   `json:"req_id,omitempty"`
	X     int      `json:"x"`
	Y     int      `json:"y"`
	Found bool     `json:"found"`
	Lines []string `json:"lines,omitempty"`
}

type AckMsg struct {
	Type     string `json:"type"`
	AckFor   string `json:"ack_for"`
	ReqID    string `json:"req_id,omitempty"`
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}
