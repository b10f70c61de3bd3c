package amqp

import (
	"encoding/json"
	"time"

	"offertory/internal/commit"
)

// CommittedMessage announces a committed batch of offering records. The
// worker reloads the records by id, so only ids and a summary travel.
type CommittedMessage struct {
	RecordIDs  []string  `json:"recordIds"`
	Date       string    `json:"date"`
	Count      int       `json:"count"`
	TotalCents int64     `json:"totalCents"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewCommittedMessage(e commit.Event) *CommittedMessage {
	return &CommittedMessage{
		RecordIDs:  e.RecordIDs,
		Date:       e.Date.String(),
		Count:      e.Count,
		TotalCents: e.Total.Cents,
		Timestamp:  time.Now(),
	}
}

func (m *CommittedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func CommittedMessageFromJSON(data []byte) (*CommittedMessage, error) {
	var msg CommittedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
