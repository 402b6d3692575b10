package notify

import (
	"fmt"
	"strconv"
	"time"

	"mangawatch/internal/watch"
)

// Message is the destination-agnostic rendering of an UpdateEvent.
type Message struct {
	Title        string
	Description  string
	Link         string
	ThumbnailURL string // empty when the work has no cover
	Timestamp    time.Time
	Fields       []Field
}

type Field struct {
	Name  string
	Value string
}

// Render builds the notification payload for ev.
func Render(ev watch.UpdateEvent, now time.Time) Message {
	m := Message{
		Title:        ev.Record.Title,
		Description:  fmt.Sprintf("Chapter %d is out", ev.Record.Installment),
		Link:         ev.Record.InstallmentURL,
		ThumbnailURL: ev.Record.ImageURL,
		Timestamp:    now,
		Fields: []Field{
			{Name: "Chapter", Value: strconv.Itoa(ev.Record.Installment)},
		},
	}
	if ev.Previous > 0 {
		m.Fields = append(m.Fields, Field{Name: "Previous", Value: strconv.Itoa(ev.Previous)})
	}
	m.Fields = append(m.Fields, Field{Name: "Source", Value: ev.URL})
	return m
}
