package turn

// State is the last step a turn reached.
type State int

// Turn states in the order a successful turn passes through them.
// Abandoned is terminal and replaces whatever step failed.
const (
	Idle State = iota
	SchemaLoaded
	QueryGenerated
	QueryExecuted
	AnswerGenerated
	Persisted
	Abandoned
)

var stateNames = map[State]string{
	Idle:            "idle",
	SchemaLoaded:    "schema_loaded",
	QueryGenerated:  "query_generated",
	QueryExecuted:   "query_executed",
	AnswerGenerated: "answer_generated",
	Persisted:       "persisted",
	Abandoned:       "abandoned",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
