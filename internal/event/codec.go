package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Encode serializes an event payload for the event log.
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	return data, nil
}

// Decode rebuilds a typed event from its log payload.
func Decode(et EventType, data []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypePoolCreated:
		evt = &PoolCreated{}
	case EventTypePositionOpened:
		evt = &PositionOpened{}
	case EventTypeStaked:
		evt = &Staked{}
	case EventTypeUnstaked:
		evt = &Unstaked{}
	case EventTypeRewardFunded:
		evt = &RewardFunded{}
	case EventTypeRewardRateUpdated:
		evt = &RewardRateUpdated{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, et)
	}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
