package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/defistate/metapool-go/events"
)

type row struct {
	runID       string
	seq         int64
	emitter     string
	kind        string
	payload     []byte
	committedAt time.Time
}

func toRows(runID string, records []events.Record) ([]row, error) {
	out := make([]row, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload %d: %w", r.Seq, err)
		}
		out = append(out, row{
			runID:       runID,
			seq:         int64(r.Seq),
			emitter:     r.Emitter.Hex(),
			kind:        string(r.Kind),
			payload:     payload,
			committedAt: r.CommittedAt,
		})
	}
	return out, nil
}
