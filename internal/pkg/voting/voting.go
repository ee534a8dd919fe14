// Package voting tallies one-vote-per-client choices per topic and fires
// threshold actions exactly once per crossing.
package voting

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Topic is a votable subject.
type Topic byte

const (
	TopicSubmarine Topic = iota + 1
	TopicMode
	TopicEndRound
	TopicKick
	TopicStartRound
)

func (t Topic) String() string {
	switch t {
	case TopicSubmarine:
		return "submarine"
	case TopicMode:
		return "mode"
	case TopicEndRound:
		return "end-round"
	case TopicKick:
		return "kick"
	case TopicStartRound:
		return "start-round"
	}
	return "unknown"
}

// ErrUnknownTopic rejects casts on topics the server does not run.
var ErrUnknownTopic = errors.New("unknown vote topic")

// DefaultRatio is the fraction of eligible voters a threshold topic needs.
const DefaultRatio = 0.6

// TallyEntry is one choice and its current count.
type TallyEntry struct {
	Choice string
	Count  int
}

// Manager holds all vote state for one lobby/round.
type Manager struct {
	ratio float64
	votes map[Topic]map[uuid.UUID]string
	// threshold actions that already fired, keyed by topic+choice so a
	// standing majority does not re-trigger every tick
	fired map[Topic]map[string]bool
}

// Cfg configures a Manager.
type Cfg func(*Manager) error

// WithRatio overrides the threshold ratio.
func WithRatio(ratio float64) Cfg {
	return func(m *Manager) error {
		if ratio <= 0 || ratio > 1 {
			return errors.Errorf("ratio %v out of (0, 1]", ratio)
		}
		m.ratio = ratio
		return nil
	}
}

// NewManager creates a Manager with the given configuration.
func NewManager(cfgs ...Cfg) (*Manager, error) {
	m := &Manager{
		ratio: DefaultRatio,
		votes: make(map[Topic]map[uuid.UUID]string),
		fired: make(map[Topic]map[string]bool),
	}
	for _, cfg := range cfgs {
		if err := cfg(m); err != nil {
			return nil, errors.Wrap(err, "apply voting cfg failed")
		}
	}
	return m, nil
}

// Cast records the voter's choice, replacing any prior choice on the same
// topic. Re-casting an identical choice is a no-op, so replayed or
// duplicated casts can never multi-count.
func (m *Manager) Cast(voter uuid.UUID, topic Topic, choice string) error {
	switch topic {
	case TopicSubmarine, TopicMode, TopicEndRound, TopicKick, TopicStartRound:
	default:
		return errors.Wrapf(ErrUnknownTopic, "topic %d", topic)
	}
	if m.votes[topic] == nil {
		m.votes[topic] = make(map[uuid.UUID]string)
	}
	m.votes[topic][voter] = choice
	return nil
}

// Retract removes the voter's choice on a topic.
func (m *Manager) Retract(voter uuid.UUID, topic Topic) {
	delete(m.votes[topic], voter)
}

// RemoveVoter clears every vote the client holds, called on disconnect.
func (m *Manager) RemoveVoter(voter uuid.UUID) {
	for _, byVoter := range m.votes {
		delete(byVoter, voter)
	}
}

// Tally returns the choices on a topic ordered by descending count, ties
// broken by choice name for determinism.
func (m *Manager) Tally(topic Topic) []TallyEntry {
	counts := make(map[string]int)
	for _, choice := range m.votes[topic] {
		counts[choice]++
	}
	out := make([]TallyEntry, 0, len(counts))
	for choice, count := range counts {
		out = append(out, TallyEntry{Choice: choice, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Choice < out[j].Choice
	})
	return out
}

// Topics returns the topics holding at least one vote, in ascending order
// so broadcasts are deterministic.
func (m *Manager) Topics() []Topic {
	out := make([]Topic, 0, len(m.votes))
	for topic, byVoter := range m.votes {
		if len(byVoter) > 0 {
			out = append(out, topic)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Leader returns the winning choice on a majority-style topic, if any
// votes exist.
func (m *Manager) Leader(topic Topic) (string, bool) {
	tally := m.Tally(topic)
	if len(tally) == 0 {
		return "", false
	}
	return tally[0].Choice, true
}

// Evaluate returns the choices on a threshold topic whose count has
// reached ratio*eligible and which have not fired before. Each returned
// choice is marked fired and will not be returned again until the topic
// is reset.
func (m *Manager) Evaluate(topic Topic, eligible int) []string {
	if eligible <= 0 {
		return nil
	}
	needed := int(float64(eligible)*m.ratio + 0.5)
	if needed < 1 {
		needed = 1
	}
	var crossed []string
	for _, entry := range m.Tally(topic) {
		if entry.Count < needed {
			break
		}
		if m.fired[topic][entry.Choice] {
			continue
		}
		if m.fired[topic] == nil {
			m.fired[topic] = make(map[string]bool)
		}
		m.fired[topic][entry.Choice] = true
		crossed = append(crossed, entry.Choice)
	}
	return crossed
}

// ResetTopic clears votes and fired markers for a topic.
func (m *Manager) ResetTopic(topic Topic) {
	delete(m.votes, topic)
	delete(m.fired, topic)
}

// Clear wipes all topics, used between rounds.
func (m *Manager) Clear() {
	m.votes = make(map[Topic]map[uuid.UUID]string)
	m.fired = make(map[Topic]map[string]bool)
}
