package mqtt311

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
)

// ValidateTopicName validates a topic name according to the MQTT v3.1.1
// specification. Topic names cannot contain wildcards and must be valid
// UTF-8.
// MQTT v3.1.1 spec: Section 4.7.3
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	// Check for null character and wildcards
	for _, r := range topic {
		if r == 0 {
			return ErrInvalidTopicName
		}
		if r == singleLevelWildcard || r == multiLevelWildcard {
			return ErrInvalidTopicName
		}
	}

	return nil
}

// ValidateTopicFilter validates a topic filter according to the MQTT
// v3.1.1 specification. Topic filters can contain wildcards but must
// follow wildcard rules.
// MQTT v3.1.1 spec: Section 4.7.1
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(filter) {
		return ErrInvalidTopicFilter
	}

	// Check for null character
	for _, r := range filter {
		if r == 0 {
			return ErrInvalidTopicFilter
		}
	}

	levels := strings.Split(filter, string(topicSeparator))

	for i, level := range levels {
		// Single-level wildcard must occupy entire level
		if strings.ContainsRune(level, singleLevelWildcard) {
			if level != string(singleLevelWildcard) {
				return ErrInvalidTopicFilter
			}
		}

		// Multi-level wildcard must be last level and occupy entire level
		if strings.ContainsRune(level, multiLevelWildcard) {
			if level != string(multiLevelWildcard) {
				return ErrInvalidTopicFilter
			}
			if i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

// TopicMatch checks if a topic name matches a topic filter. An exact
// string match always succeeds without consulting wildcard rules.
// MQTT v3.1.1 spec: Section 4.7
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if filter == topic {
		return true
	}

	// Topics starting with $ don't match wildcards at root level
	if topic[0] == '$' {
		if filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard {
			return false
		}
	}

	return matchTopicNoAlloc(filter, topic)
}

// matchTopicNoAlloc matches topic against filter without allocations.
func matchTopicNoAlloc(filter, topic string) bool {
	fi, ti := 0, 0
	flen, tlen := len(filter), len(topic)

	for fi < flen {
		// Get current filter level
		fstart := fi
		for fi < flen && filter[fi] != topicSeparator {
			fi++
		}
		flevel := filter[fstart:fi]

		// Multi-level wildcard matches everything remaining
		if flevel == "#" {
			return true
		}

		// Check if we have a topic level to match
		if ti >= tlen {
			return false
		}

		// Get current topic level
		tstart := ti
		for ti < tlen && topic[ti] != topicSeparator {
			ti++
		}
		tlevel := topic[tstart:ti]

		// Single-level wildcard matches any single level
		if flevel != "+" && flevel != tlevel {
			return false
		}

		// Move past separator if present
		if fi < flen {
			fi++ // skip '/'
		}
		if ti < tlen {
			ti++ // skip '/'
		}
	}

	// Filter exhausted - topic must also be exhausted
	return ti >= tlen
}

// containsWildcard returns true if the filter contains wildcard characters.
func containsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "#+")
}
