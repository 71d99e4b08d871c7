package scan

import "fmt"

// Verdict is the normalized outcome of one scan-engine call.
type Verdict int

const (
	VerdictClean Verdict = iota
	VerdictInfected
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case VerdictClean:
		return "clean"
	case VerdictInfected:
		return "infected"
	default:
		return "error"
	}
}

// Result is the tagged outcome a scan engine payload normalizes to.
type Result struct {
	Verdict   Verdict
	Message   string
	VirusName string
}

// Status maps the verdict to its terminal record status.
func (r Result) Status() Status {
	switch r.Verdict {
	case VerdictClean:
		return StatusClean
	case VerdictInfected:
		return StatusInfected
	default:
		return StatusScanError
	}
}

// Normalize folds both scan-engine payload shapes into a Result. The engine's
// output format changed between integration versions: older builds emit a
// status-keyed payload ("status": clean|infected|error), newer ones a
// boolean-keyed payload ("clean": bool, "virus": name). Both must keep
// working against the same record table.
func Normalize(payload map[string]any) Result {
	if status, ok := payload["status"]; ok {
		return normalizeStatusKeyed(status, payload)
	}
	if clean, ok := payload["clean"]; ok {
		return normalizeBooleanKeyed(clean, payload)
	}
	return Result{
		Verdict: VerdictError,
		Message: fmt.Sprintf("Unknown scan result format: %v", payload),
	}
}

func normalizeStatusKeyed(status any, payload map[string]any) Result {
	msg := stringField(payload, "message")
	switch status {
	case "clean":
		return Result{Verdict: VerdictClean, Message: msg}
	case "infected":
		return Result{
			Verdict:   VerdictInfected,
			Message:   msg,
			VirusName: stringField(payload, "virus_name"),
		}
	case "error":
		return Result{Verdict: VerdictError, Message: msg}
	}
	return Result{
		Verdict: VerdictError,
		Message: fmt.Sprintf("Unknown scan result format: %v", payload),
	}
}

func normalizeBooleanKeyed(clean any, payload map[string]any) Result {
	msg := stringField(payload, "message")
	if clean == true {
		return Result{Verdict: VerdictClean, Message: msg}
	}
	if virus := stringField(payload, "virus"); virus != "" {
		return Result{Verdict: VerdictInfected, Message: msg, VirusName: virus}
	}
	return Result{Verdict: VerdictError, Message: msg}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
