package command

import "time"

// Record is a queued remote command. Type is the command kind name, e.g.
// "REBOOT"; Parameters is the ordered parameter list.
type Record struct {
	ID         int64
	Type       string
	Parameters []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Retries    int
}

func NewRecord(kind string, params []string, now time.Time) Record {
	return Record{
		Type:       kind,
		Parameters: append([]string(nil), params...),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
