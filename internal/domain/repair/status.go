package repair

const (
	StatusStarted    = "started"
	StatusDiagnosing = "diagnosing"
	StatusConfirmed  = "confirmed"
	StatusGuided     = "guided"
	StatusCompleted  = "completed"
)

var statusRank = map[string]int{
	StatusStarted:    0,
	StatusDiagnosing: 1,
	StatusConfirmed:  2,
	StatusGuided:     3,
	StatusCompleted:  4,
}

func IsValidStatus(s string) bool {
	_, ok := statusRank[s]
	return ok
}

// AdvanceStatus returns next if it is further along the journey than cur,
// otherwise cur. Unknown values never win over known ones.
func AdvanceStatus(cur, next string) string {
	cr, curOK := statusRank[cur]
	nr, nextOK := statusRank[next]
	switch {
	case !nextOK:
		return cur
	case !curOK:
		return next
	case nr > cr:
		return next
	default:
		return cur
	}
}
