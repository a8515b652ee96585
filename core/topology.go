package assistant

import (
	"fmt"

	"github.com/koscakluka/ada-core/core/events"
	"github.com/koscakluka/ada-core/core/module"
)

// implicitTopics are published by the assistant itself, so modules may
// subscribe to them without a module-level publisher.
var implicitTopics = []events.Topic{events.TopicLifecycle, events.TopicHealth}

// validateTopology checks module names are unique and every subscribed
// topic has at least one declared publisher.
func validateTopology(modules []module.Module) error {
	names := make(map[string]bool, len(modules))
	published := make(map[events.Topic]bool)
	for _, topic := range implicitTopics {
		published[topic] = true
	}

	for _, m := range modules {
		if names[m.Name()] {
			return fmt.Errorf("duplicate module name %q", m.Name())
		}
		names[m.Name()] = true

		for _, topic := range m.Topics().Publishes {
			published[topic] = true
		}
	}

	for _, m := range modules {
		for _, topic := range m.Topics().Subscribes {
			if !published[topic] {
				return fmt.Errorf("module %q subscribes to topic %q which has no publisher", m.Name(), topic)
			}
		}
	}

	return nil
}

// startOrder arranges modules so producers start before their consumers.
// It greedily picks the first registered module whose subscribed topics
// are all covered by already-started modules (or the assistant's implicit
// topics). Topic cycles are broken by picking the module with the fewest
// unmet subscriptions, then by registration order; this starts perception
// ahead of reasoning in the standard wiring.
func startOrder(modules []module.Module) []module.Module {
	available := make(map[events.Topic]bool)
	for _, topic := range implicitTopics {
		available[topic] = true
	}

	remaining := append([]module.Module(nil), modules...)
	order := make([]module.Module, 0, len(modules))

	for len(remaining) > 0 {
		pick := -1
		pickUnmet := -1
		for i, m := range remaining {
			unmet := 0
			for _, topic := range m.Topics().Subscribes {
				if !available[topic] {
					unmet++
				}
			}
			if unmet == 0 {
				pick = i
				break
			}
			if pickUnmet < 0 || unmet < pickUnmet {
				pick = i
				pickUnmet = unmet
			}
		}

		chosen := remaining[pick]
		remaining = append(remaining[:pick], remaining[pick+1:]...)
		order = append(order, chosen)
		for _, topic := range chosen.Topics().Publishes {
			available[topic] = true
		}
	}

	return order
}
