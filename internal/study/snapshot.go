package study

import (
	"strconv"
	"strings"
	"time"

	"github.com/kfilewski/conversbot/internal/models"
	"github.com/kfilewski/conversbot/internal/rowstore"
)

// Snapshot rebuilds the participant's full persisted row from the current
// session state, in schema column order. It is a pure function of the
// session: the same state always yields the same row. Unanswered fields are
// empty strings, matching a partially completed sheet row.
func Snapshot(s *models.Session) []string {
	row := make([]string, 0, len(rowstore.Columns))

	row = append(row,
		s.ParticipantID,
		s.StartedAt.UTC().Format(time.RFC3339),
		s.Condition,
	)

	if d := s.Answers.Demographics; d != nil {
		row = append(row,
			strconv.Itoa(d.Age), d.Gender, d.Education, d.Employment,
			d.AttitudeProblem, d.AttitudeWelfare, d.AttitudeWouldSign,
		)
	} else {
		row = append(row, "", "", "", "", "", "", "")
	}

	row = append(row, itemColumns(s.Answers.Personality.ItemsOrNil(), rowstore.PersonalityItemCount)...)

	convStart, convEnd, convSeconds := conversationWindow(s)
	row = append(row,
		convStart,
		convEnd,
		convSeconds,
		strconv.Itoa(s.UserMessages),
		strconv.Itoa(s.BotMessages),
		Transcript(s.Conversation),
	)

	row = append(row, itemColumns(s.Answers.Evaluation.ItemsOrNil(), rowstore.EvaluationItemCount)...)

	if d := s.Answers.Decision; d != nil {
		row = append(row, d.Choice)
	} else {
		row = append(row, "")
	}
	if f := s.Answers.Feedback; f != nil {
		row = append(row, f.Negative, f.Positive)
	} else {
		row = append(row, "", "")
	}

	total := ""
	if !s.UpdatedAt.IsZero() {
		total = strconv.Itoa(int(s.UpdatedAt.Sub(s.StartedAt).Seconds()))
	}
	row = append(row, total)

	return row
}

func conversationWindow(s *models.Session) (start, end, seconds string) {
	if s.Timer == nil {
		return "", "", ""
	}
	start = s.Timer.StartedAt.UTC().Format(time.RFC3339)
	if s.ConversationEndedAt.IsZero() {
		return start, "", ""
	}
	end = s.ConversationEndedAt.UTC().Format(time.RFC3339)
	seconds = strconv.Itoa(int(s.ConversationEndedAt.Sub(s.Timer.StartedAt).Seconds()))
	return start, end, seconds
}

func itemColumns(items []int, width int) []string {
	out := make([]string, width)
	for i := range out {
		if i < len(items) {
			out[i] = strconv.Itoa(items[i])
		}
	}
	return out
}

// Transcript flattens the turn log into the single delimited string stored
// in the row: "User:"/"Bot:" prefixed lines, bot sentence lists rejoined.
func Transcript(turns []*models.Turn) string {
	lines := make([]string, 0, len(turns)*2)
	for _, t := range turns {
		if t.UserMessage != "" {
			lines = append(lines, "User: "+t.UserMessage)
		}
		if len(t.BotSentences) > 0 {
			lines = append(lines, "Bot: "+JoinSentences(t.BotSentences))
		}
	}
	return strings.Join(lines, "\n")
}
