package logging

import (
	"encoding/json"
	"log"
	"time"
)

// Fields is one structured log record. Empty fields are dropped from the output.
type Fields struct {
	Service    string `json:"service"`
	OrderID    string `json:"order_id,omitempty"`
	BookID     int64  `json:"book_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func Log(f Fields) {
	f.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", f.Service, err.Error())
		return
	}
	log.Print(string(data))
}

// Err is Log with the error attached.
func Err(f Fields, err error) {
	if err != nil {
		f.Error = err.Error()
	}
	Log(f)
}
