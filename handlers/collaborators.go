package handlers

import (
	"fmt"
	"log"

	"github.com/gjbm2/screen-machine-sub000/model"
)

// Collaborators bundles every external system an instruction handler can
// reach out to. A concrete fleet wires real implementations (content
// generation backends, a device control plane, a publish target); the
// Logging* stubs in this file let the scheduler run standalone against
// nothing but its own logs, the same role the teacher's harpoon-agent
// plays as a reference implementation of the container.Container
// interface it talks to over HTTP.
type Collaborators struct {
	Templater Templater
	Publisher Publisher
	Generator Generator
	Animator  Animator
	Displayer Displayer
	Device    DeviceDriver
	Reasoner  Reasoner
}

// Templater renders a schedule-authored template string against a
// context's variables. Schedules store template text verbatim (see
// model.Schedule's doc comment) and it is rendered only at execution time.
type Templater interface {
	Render(tmpl string, vars model.Vars) (string, error)
}

// Publisher delivers rendered content to a destination's outward channel
// (a chat room, a notification sink, a display's caption line).
type Publisher interface {
	Publish(dest, content string) error
}

// Generator produces content (an image reference, a block of text, ...)
// from instruction params, optionally bound to a context variable by the
// "generate" handler.
type Generator interface {
	Generate(dest string, params map[string]model.Value) (model.Value, error)
}

// Animator drives a destination's animation/transition layer.
type Animator interface {
	Animate(dest string, params map[string]model.Value) error
}

// Displayer pushes already-produced content onto a destination's screen.
type Displayer interface {
	Display(dest string, content model.Value) error
}

// DeviceDriver is the physical/virtual device control surface backing the
// device_* instruction family.
type DeviceDriver interface {
	Wake(dest string) error
	Sleep(dest string) error
	Standby(dest string) error
	MediaSync(dest string) error
}

// Reasoner produces the next turn of a bounded conversation/decision
// history for the "reason" instruction.
type Reasoner interface {
	Reason(dest string, history []model.Value, params map[string]model.Value) (model.Value, error)
}

// LoggingStubs returns a Collaborators wired entirely to stubs. The
// publisher, generator, animator, displayer and device stubs log what they
// were asked to do and otherwise succeed; the templater returns the
// template text unchanged without logging; the reasoner always returns an
// error, so a reason instruction only succeeds through its "fallback".
// Suitable for a scheduler run standalone, or as a starting point a fleet
// overrides field-by-field.
func LoggingStubs() Collaborators {
	return Collaborators{
		Templater: loggingTemplater{},
		Publisher: loggingPublisher{},
		Generator: loggingGenerator{},
		Animator:  loggingAnimator{},
		Displayer: loggingDisplayer{},
		Device:    loggingDevice{},
		Reasoner:  loggingReasoner{},
	}
}

type loggingTemplater struct{}

func (loggingTemplater) Render(tmpl string, vars model.Vars) (string, error) {
	return tmpl, nil
}

type loggingPublisher struct{}

func (loggingPublisher) Publish(dest, content string) error {
	log.Printf("[%s] publish: %s", dest, content)
	return nil
}

type loggingGenerator struct{}

func (loggingGenerator) Generate(dest string, params map[string]model.Value) (model.Value, error) {
	log.Printf("[%s] generate: %v", dest, params)
	return nil, nil
}

type loggingAnimator struct{}

func (loggingAnimator) Animate(dest string, params map[string]model.Value) error {
	log.Printf("[%s] animate: %v", dest, params)
	return nil
}

type loggingDisplayer struct{}

func (loggingDisplayer) Display(dest string, content model.Value) error {
	log.Printf("[%s] display: %v", dest, content)
	return nil
}

type loggingDevice struct{}

func (loggingDevice) Wake(dest string) error      { log.Printf("[%s] device wake", dest); return nil }
func (loggingDevice) Sleep(dest string) error     { log.Printf("[%s] device sleep", dest); return nil }
func (loggingDevice) Standby(dest string) error   { log.Printf("[%s] device standby", dest); return nil }
func (loggingDevice) MediaSync(dest string) error { log.Printf("[%s] device media_sync", dest); return nil }

type loggingReasoner struct{}

func (loggingReasoner) Reason(dest string, history []model.Value, params map[string]model.Value) (model.Value, error) {
	return "", fmt.Errorf("handlers: no reasoner configured for %s", dest)
}
