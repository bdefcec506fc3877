package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// EventType tags a RecordedEvent variant.
type EventType string

const (
	EventClick       EventType = "CLICK"
	EventInput       EventType = "INPUT"
	EventNavigation  EventType = "NAVIGATION"
	EventHover       EventType = "HOVER"
	EventScroll      EventType = "SCROLL"
	EventWait        EventType = "WAIT"
	EventAssertion   EventType = "ASSERTION"
	EventCapture     EventType = "CAPTURE"
	EventConditional EventType = "CONDITIONAL"
	EventLoop        EventType = "LOOP"
	EventGroup       EventType = "GROUP"
	EventTryCatch    EventType = "TRY_CATCH"
	EventCustom      EventType = "CUSTOM"
)

// ParseEventType normalizes the tag sent by the page ("click", "try-catch",
// "TRYCATCH" ...) to its canonical form.
func ParseEventType(s string) (EventType, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	if norm == "TRYCATCH" {
		norm = string(EventTryCatch)
	}
	if _, ok := eventShapes[EventType(norm)]; ok {
		return EventType(norm), true
	}
	return "", false
}

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Locator is one candidate way of finding the element again.
type Locator struct {
	Strategy string  `json:"strategy"`
	Value    string  `json:"value"`
	Score    float64 `json:"score,omitempty"`
}

// ElementInfo describes the DOM element an event targeted.
type ElementInfo struct {
	TagName     string            `json:"tagName"`
	ID          string            `json:"id,omitempty"`
	Classes     []string          `json:"classes,omitempty"`
	Name        string            `json:"name,omitempty"`
	Text        string            `json:"text,omitempty"`
	Href        string            `json:"href,omitempty"`
	Src         string            `json:"src,omitempty"`
	InputType   string            `json:"inputType,omitempty"`
	Visible     bool              `json:"visible"`
	Enabled     bool              `json:"enabled"`
	Selected    bool              `json:"selected"`
	BoundingBox *BoundingBox      `json:"boundingBox,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Locators    []Locator         `json:"locators,omitempty"`
}

// RecordedEvent is the closed set of event variants. Values are immutable
// once ingested; all variants are stored and passed by value.
type RecordedEvent interface {
	Base() BaseEvent
	recordedEvent()
}

// BaseEvent holds the fields common to every variant.
type BaseEvent struct {
	ID            string       `json:"id"`
	Type          EventType    `json:"type"`
	Timestamp     int64        `json:"timestamp"`
	URL           string       `json:"url,omitempty"`
	PageTitle     string       `json:"pageTitle,omitempty"`
	Viewport      *Viewport    `json:"viewport,omitempty"`
	TargetElement *ElementInfo `json:"targetElement,omitempty"`
}

func (b BaseEvent) Base() BaseEvent { return b }

func (BaseEvent) recordedEvent() {}

func (b *BaseEvent) base() *BaseEvent { return b }

type ClickEvent struct {
	BaseEvent
	Button     string   `json:"button,omitempty"`
	ClickCount int      `json:"clickCount,omitempty"`
	X          float64  `json:"x,omitempty"`
	Y          float64  `json:"y,omitempty"`
	Modifiers  []string `json:"modifiers,omitempty"`
}

type InputEvent struct {
	BaseEvent
	Value     string `json:"value"`
	InputType string `json:"inputType,omitempty"`
	Masked    bool   `json:"masked,omitempty"`
}

type NavigationEvent struct {
	BaseEvent
	SourceURL string `json:"sourceUrl,omitempty"`
	TargetURL string `json:"targetUrl"`
	Trigger   string `json:"trigger,omitempty"`
}

type HoverEvent struct {
	BaseEvent
	Duration int64 `json:"duration,omitempty"`
}

type ScrollEvent struct {
	BaseEvent
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

type WaitEvent struct {
	BaseEvent
	WaitType  string `json:"waitType"`
	Duration  int64  `json:"duration,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Condition string `json:"condition,omitempty"`
}

type AssertionEvent struct {
	BaseEvent
	AssertionType string      `json:"assertionType"`
	Selector      string      `json:"selector,omitempty"`
	Operator      string      `json:"operator,omitempty"`
	Expected      interface{} `json:"expected,omitempty"`
	Actual        interface{} `json:"actual,omitempty"`
	Passed        *bool       `json:"passed,omitempty"`
}

type CaptureEvent struct {
	BaseEvent
	CaptureType string `json:"captureType"`
	Selector    string `json:"selector,omitempty"`
	Attribute   string `json:"attribute,omitempty"`
	Variable    string `json:"variable,omitempty"`
	Value       string `json:"value,omitempty"`
}

type ConditionalEvent struct {
	BaseEvent
	Condition    string   `json:"condition"`
	ThenEventIDs []string `json:"thenEventIds"`
	ElseEventIDs []string `json:"elseEventIds,omitempty"`
}

type LoopEvent struct {
	BaseEvent
	LoopType     string   `json:"loopType"`
	BodyEventIDs []string `json:"bodyEventIds"`
	Iterations   int      `json:"iterations,omitempty"`
	Condition    string   `json:"condition,omitempty"`
	Collection   string   `json:"collection,omitempty"`
}

type GroupEvent struct {
	BaseEvent
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	ChildEventIDs []string `json:"childEventIds"`
}

type TryCatchEvent struct {
	BaseEvent
	TryEventIDs     []string `json:"tryEventIds"`
	CatchEventIDs   []string `json:"catchEventIds,omitempty"`
	FinallyEventIDs []string `json:"finallyEventIds,omitempty"`
}

type CustomEvent struct {
	BaseEvent
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// ChildIDs returns the ids a control-flow event refers to, in branch order.
func ChildIDs(ev RecordedEvent) []string {
	var ids []string
	switch e := ev.(type) {
	case ConditionalEvent:
		ids = append(ids, e.ThenEventIDs...)
		ids = append(ids, e.ElseEventIDs...)
	case LoopEvent:
		ids = append(ids, e.BodyEventIDs...)
	case GroupEvent:
		ids = append(ids, e.ChildEventIDs...)
	case TryCatchEvent:
		ids = append(ids, e.TryEventIDs...)
		ids = append(ids, e.CatchEventIDs...)
		ids = append(ids, e.FinallyEventIDs...)
	}
	return ids
}

type eventShape struct {
	required []string
	decode   func(payload []byte, fix func(*BaseEvent)) (RecordedEvent, error)
}

var eventShapes = map[EventType]eventShape{
	EventClick:       {required: []string{"targetElement"}, decode: decodeAs[ClickEvent]},
	EventInput:       {required: []string{"targetElement", "value"}, decode: decodeAs[InputEvent]},
	EventNavigation:  {required: []string{"targetUrl"}, decode: decodeAs[NavigationEvent]},
	EventHover:       {required: []string{"targetElement"}, decode: decodeAs[HoverEvent]},
	EventScroll:      {required: []string{"scrollY"}, decode: decodeAs[ScrollEvent]},
	EventWait:        {required: []string{"waitType"}, decode: decodeAs[WaitEvent]},
	EventAssertion:   {required: []string{"assertionType"}, decode: decodeAs[AssertionEvent]},
	EventCapture:     {required: []string{"captureType"}, decode: decodeAs[CaptureEvent]},
	EventConditional: {required: []string{"condition", "thenEventIds"}, decode: decodeAs[ConditionalEvent]},
	EventLoop:        {required: []string{"loopType", "bodyEventIds"}, decode: decodeAs[LoopEvent]},
	EventGroup:       {required: []string{"name", "childEventIds"}, decode: decodeAs[GroupEvent]},
	EventTryCatch:    {required: []string{"tryEventIds"}, decode: decodeAs[TryCatchEvent]},
	EventCustom:      {required: []string{"name"}, decode: decodeAs[CustomEvent]},
}

type eventPtr[T any] interface {
	*T
	base() *BaseEvent
}

func decodeAs[T any, P eventPtr[T]](payload []byte, fix func(*BaseEvent)) (RecordedEvent, error) {
	ev := new(T)
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEventPayload, err)
	}
	fix(P(ev).base())
	return any(*ev).(RecordedEvent), nil
}

// DecodeEvent validates a raw page payload and builds the typed event. newID
// supplies an id when the payload carries none.
func DecodeEvent(payload []byte, newID func() string) (RecordedEvent, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidEventPayload)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidEventPayload)
	}

	typeField := root.Get("type")
	if !typeField.Exists() || typeField.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEventPayload)
	}
	eventType, ok := ParseEventType(typeField.String())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEventType, typeField.String())
	}
	if ts := root.Get("timestamp"); !ts.Exists() || ts.Type != gjson.Number {
		return nil, fmt.Errorf("%w: missing timestamp", ErrInvalidEventPayload)
	}

	shape := eventShapes[eventType]
	for _, field := range shape.required {
		if r := root.Get(field); !r.Exists() || r.Type == gjson.Null {
			return nil, fmt.Errorf("%w: %s requires %q", ErrInvalidEventPayload, eventType, field)
		}
	}

	return shape.decode(payload, func(b *BaseEvent) {
		b.Type = eventType
		if b.ID == "" && newID != nil {
			b.ID = newID()
		}
	})
}

// CloneEvent returns a copy of ev that shares no memory with it, so a
// stored event cannot be changed through a value handed out earlier.
func CloneEvent(ev RecordedEvent) RecordedEvent {
	switch e := ev.(type) {
	case ClickEvent:
		e.BaseEvent = e.BaseEvent.clone()
		e.Modifiers = slices.Clone(e.Modifiers)
		return e
	case InputEvent:
		e.BaseEvent = e.BaseEvent.clone()
		return e
	case NavigationEvent:
		e.BaseEvent = e.BaseEvent.clone()
		return e
	case HoverEvent:
		e.BaseEvent = e.BaseEvent.clone()
		return e
	case ScrollEvent:
		e.BaseEvent = e.BaseEvent.clone()
		return e
	case WaitEvent:
		e.BaseEvent = e.BaseEvent.clone()
		return e
	case AssertionEvent:
		e.BaseEvent = e.BaseEvent.clone()
		e.Expected = cloneValue(e.Expected)
		e.Actual = cloneValue(e.Actual)
		if e.Passed != nil {
			passed := *e.Passed
			e.Passed = &passed
		}
		return e
	case CaptureEvent:
		e.BaseEvent = e.BaseEvent.clone()
		return e
	case ConditionalEvent:
		e.BaseEvent = e.BaseEvent.clone()
		e.ThenEventIDs = slices.Clone(e.ThenEventIDs)
		e.ElseEventIDs = slices.Clone(e.ElseEventIDs)
		return e
	case LoopEvent:
		e.BaseEvent = e.BaseEvent.clone()
		e.BodyEventIDs = slices.Clone(e.BodyEventIDs)
		return e
	case GroupEvent:
		e.BaseEvent = e.BaseEvent.clone()
		e.ChildEventIDs = slices.Clone(e.ChildEventIDs)
		return e
	case TryCatchEvent:
		e.BaseEvent = e.BaseEvent.clone()
		e.TryEventIDs = slices.Clone(e.TryEventIDs)
		e.CatchEventIDs = slices.Clone(e.CatchEventIDs)
		e.FinallyEventIDs = slices.Clone(e.FinallyEventIDs)
		return e
	case CustomEvent:
		e.BaseEvent = e.BaseEvent.clone()
		if e.Data != nil {
			e.Data = cloneValue(e.Data).(map[string]interface{})
		}
		return e
	}
	return ev
}

func (b BaseEvent) clone() BaseEvent {
	if b.Viewport != nil {
		vp := *b.Viewport
		b.Viewport = &vp
	}
	if b.TargetElement != nil {
		el := *b.TargetElement
		el.Classes = slices.Clone(el.Classes)
		el.Attributes = maps.Clone(el.Attributes)
		el.Locators = slices.Clone(el.Locators)
		if el.BoundingBox != nil {
			box := *el.BoundingBox
			el.BoundingBox = &box
		}
		b.TargetElement = &el
	}
	return b
}

// cloneValue deep-copies a decoded JSON value.
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	}
	return v
}
