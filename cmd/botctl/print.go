package main

import (
	"fmt"
	"io"
	"time"
)

type logLine struct {
	ID        int64     `json:"id"`
	BotID     string    `json:"botId"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

type botStatus struct {
	BotID     string     `json:"botId"`
	State     string     `json:"state"`
	PID       int        `json:"pid"`
	StartedAt *time.Time `json:"startedAt"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func printLine(w io.Writer, l logLine) {
	fmt.Fprintf(w, "%s [%-7s] %s\n", l.Timestamp.Local().Format("2006-01-02 15:04:05"), l.Type, l.Message)
}

func printStatus(w io.Writer, st botStatus) {
	fmt.Fprintf(w, "Bot:     %s\n", st.BotID)
	fmt.Fprintf(w, "State:   %s\n", st.State)
	if st.PID > 0 {
		fmt.Fprintf(w, "PID:     %d\n", st.PID)
	}
	if st.StartedAt != nil {
		fmt.Fprintf(w, "Started: %s (%s ago)\n", st.StartedAt.Local().Format(time.RFC3339),
			time.Since(*st.StartedAt).Round(time.Second))
	}
	if st.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires: %s\n", st.ExpiresAt.Local().Format(time.RFC3339))
	}
}
