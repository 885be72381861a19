// Package intents maps a lead's free-text message onto independent boolean
// intent flags. Detectors are deliberately dumb pattern matchers: anything
// ambiguous stays false and falls through to the generative handler.
package intents

import (
	"regexp"
	"strings"

	"github.com/inkflow-ai/studio-platform/internal/leadstate"
)

// Intents holds the non-exclusive flags detected for one message.
type Intents struct {
	Scheduling     bool
	ConsultChoice  bool
	Deposit        bool
	SlotSelection  bool
	Reschedule     bool
	Cancel         bool
	InterpreterYes bool
	MoreTimes      bool

	// ChosenConsultType is set when ConsultChoice is true.
	ChosenConsultType leadstate.ConsultType
	// SelectedSlot is set when SlotSelection is true.
	SelectedSlot *leadstate.SentSlot
}

// Names returns the active flags for telemetry.
func (i Intents) Names() []string {
	var names []string
	add := func(on bool, name string) {
		if on {
			names = append(names, name)
		}
	}
	add(i.Scheduling, "scheduling")
	add(i.ConsultChoice, "consult_choice")
	add(i.Deposit, "deposit")
	add(i.SlotSelection, "slot_selection")
	add(i.Reschedule, "reschedule")
	add(i.Cancel, "cancel")
	add(i.InterpreterYes, "interpreter_yes")
	add(i.MoreTimes, "more_times")
	return names
}

var schedulingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhat\s+times?\b`),
	regexp.MustCompile(`(?i)\b(availability|available|openings?|open\s+slots?)\b`),
	regexp.MustCompile(`(?i)\bschedule\b`),
	regexp.MustCompile(`(?i)\bbook\s+(me|a|an|it)\b`),
	regexp.MustCompile(`(?i)\b(this|next)\s+(week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\bwhen\s+(can|could)\s+(i|we)\b`),
	regexp.MustCompile(`(?i)\bset\s+up\s+(a\s+)?(time|appointment|consult)\b`),
}

var appointmentChoicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(video|phone|voice)\s*(call|chat|consult)\b`),
	regexp.MustCompile(`(?i)\b(in[-\s]?person|come\s+in|stop\s+by|visit\s+the\s+(shop|studio))\b`),
	regexp.MustCompile(`(?i)\b(live|real[-\s]?time)\s+consult`),
	regexp.MustCompile(`(?i)\brather\s+(talk|speak|call)\b`),
}

var messageChoicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(text|message|chat|dm|email)\s*(consult|only|works|is\s+fine|preferred)\b`),
	regexp.MustCompile(`(?i)\b(over|via|by|through)\s+(text|messages?|chat|dm)\b`),
	regexp.MustCompile(`(?i)\bno\s+calls?\b`),
	regexp.MustCompile(`(?i)\bjust\s+text\s+me\b`),
}

var depositPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdeposit\b`),
	regexp.MustCompile(`(?i)\b(payment|pay)\s+link\b`),
	regexp.MustCompile(`(?i)\b(re)?send\s+(me\s+)?the\s+link\b`),
	regexp.MustCompile(`(?i)\bhow\s+(much|do\s+i\s+pay)\b`),
}

var reschedulePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bre[-\s]?schedule\b`),
	regexp.MustCompile(`(?i)\b(move|change|push|switch)\s+(my|the|our)\s+(appointment|consult|time|booking)\b`),
	regexp.MustCompile(`(?i)\b(different|another)\s+(day|time|slot)\b`),
	regexp.MustCompile(`(?i)\bcan('?t|\s+not)\s+make\s+(it|that)\b`),
}

var cancelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcancel\b`),
	regexp.MustCompile(`(?i)\bcall\s+(it|the\s+whole\s+thing)\s+off\b`),
	regexp.MustCompile(`(?i)\bnot\s+(interested|going\s+to\s+(come|make\s+it))\s*(anymore|any\s*more)?\b`),
	regexp.MustCompile(`(?i)\bchanged\s+my\s+mind\b`),
}

var interpreterYesPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byes.{0,20}\b(interpreter|translator)\b`),
	regexp.MustCompile(`(?i)\b(interpreter|translator).{0,20}\b(yes|please|would\s+help|works)\b`),
	regexp.MustCompile(`(?i)\bneed\s+(an?\s+)?(interpreter|translator)\b`),
}

var moreTimesPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(more|other|different)\s+(times?|options?|slots?)\b`),
	regexp.MustCompile(`(?i)\bnone\s+of\s+(those|these)\s+work\b`),
	regexp.MustCompile(`(?i)\banything\s+(else|later|earlier)\b`),
}

// slotNumberPattern matches bare selections like "2", "option 2", "#2".
var slotNumberPattern = regexp.MustCompile(`(?i)^\s*(?:option|choice|number|slot|#)?\s*([1-9])\s*(?:please|works|is\s+good)?\s*[.!]?\s*$`)

var ordinalPatterns = []struct {
	pattern *regexp.Regexp
	index   int
}{
	{regexp.MustCompile(`(?i)\b(first|1st)\b`), 1},
	{regexp.MustCompile(`(?i)\b(second|2nd)\b`), 2},
	{regexp.MustCompile(`(?i)\b(third|3rd)\b`), 3},
	{regexp.MustCompile(`(?i)\b(fourth|4th)\b`), 4},
	{regexp.MustCompile(`(?i)\b(fifth|5th)\b`), 5},
	{regexp.MustCompile(`(?i)\b(sixth|6th)\b`), 6},
}

// Detect runs every matcher against the message. Flags are independent; a
// single message can raise several.
func Detect(message string, state leadstate.CanonicalState) Intents {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Intents{}
	}

	out := Intents{
		Scheduling:     matchAny(msg, schedulingPatterns),
		Deposit:        matchAny(msg, depositPatterns),
		Reschedule:     matchAny(msg, reschedulePatterns),
		Cancel:         matchAny(msg, cancelPatterns),
		InterpreterYes: matchAny(msg, interpreterYesPatterns),
		MoreTimes:      matchAny(msg, moreTimesPatterns),
	}

	switch {
	case matchAny(msg, appointmentChoicePatterns):
		out.ConsultChoice = true
		out.ChosenConsultType = leadstate.ConsultAppointment
	case matchAny(msg, messageChoicePatterns):
		out.ConsultChoice = true
		out.ChosenConsultType = leadstate.ConsultMessage
	}

	if slot := matchSlotSelection(msg, state.LastSentSlots); slot != nil {
		out.SlotSelection = true
		out.SelectedSlot = slot
	}

	// "Cancel" inside a reschedule request means "move it", not "drop it".
	if out.Reschedule {
		out.Cancel = false
	}

	return out
}

func matchAny(msg string, patterns []*regexp.Regexp) bool {
	for _, pat := range patterns {
		if pat.MatchString(msg) {
			return true
		}
	}
	return false
}

// matchSlotSelection resolves a numeric or ordinal reply against the slots
// offered last turn. Out-of-range numbers do not count as selections.
func matchSlotSelection(msg string, offered []leadstate.SentSlot) *leadstate.SentSlot {
	if len(offered) == 0 {
		return nil
	}

	index := 0
	if m := slotNumberPattern.FindStringSubmatch(msg); m != nil {
		index = int(m[1][0] - '0')
	} else {
		for _, ord := range ordinalPatterns {
			if ord.pattern.MatchString(msg) {
				index = ord.index
				break
			}
		}
	}
	if index == 0 {
		return nil
	}
	for i := range offered {
		if offered[i].Index == index {
			return &offered[i]
		}
	}
	return nil
}
