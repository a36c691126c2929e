package common

import (
	"time"
)

type Events struct {
	eventers []Eventer
}

func (es *Events) Now(name string, attributes map[string]string) error {
	return es.At(name, attributes, time.Now())
}

func (es *Events) At(name string, attributes map[string]string, when time.Time) error {
	return es.Interval(name, attributes, when, when)
}

// Interval delivers to every eventer and returns the last failure, if any.
func (es *Events) Interval(name string, attributes map[string]string, begin, end time.Time) error {
	var last error
	for _, e := range es.eventers {
		if err := e.Interval(name, attributes, begin, end); err != nil {
			last = err
		}
	}
	return last
}

func (es *Events) Stop() {
	for _, e := range es.eventers {
		e.Stop()
	}
}

func (es *Events) Register(e Eventer) {
	if !IsNil(e) {
		es.eventers = append(es.eventers, e)
	}
}

func (es *Events) Len() int {
	return len(es.eventers)
}

func NewEvents() *Events {
	return &Events{}
}
