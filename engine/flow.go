// Package engine drives one logical turn of a conversational call flow:
// resolve the current step, turn the host-supplied media result into a typed
// step output, decide the next step, and render the instruction the host
// must execute.
package engine

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type StepType string

const (
	StepGatherIntent StepType = "gatherIntent"
	StepMakeCall     StepType = "makeCall"
	StepPlayMessage  StepType = "playMessage"
	StepSetData      StepType = "setData"
	StepRestCall     StepType = "restCall"
	StepEndCall      StepType = "endCall"
)

// Flow is an immutable flow definition: a set of named steps, the entry
// step, and a link table mapping "<stepName>:<outPortName>" to the next
// step's name.
type Flow struct {
	ID              string            `yaml:"id" json:"id" validate:"required"`
	Name            string            `yaml:"name" json:"name"`
	InitialStepName string            `yaml:"initialStepName" json:"initialStepName" validate:"required"`
	Steps           []Step            `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
	Links           map[string]string `yaml:"links" json:"links"`
}

// Step is one node in the flow graph. Exactly the config matching Type is
// expected to be set; Outs lists the conditional exits in declaration order.
type Step struct {
	Name string   `yaml:"name" json:"name" validate:"required"`
	Type StepType `yaml:"type" json:"type" validate:"required,oneof=gatherIntent makeCall playMessage setData restCall endCall"`
	Outs OutPorts `yaml:"outs,omitempty" json:"outs,omitempty"`

	GatherIntent *GatherIntentConfig `yaml:"gatherIntent,omitempty" json:"gatherIntent,omitempty"`
	MakeCall     *MakeCallConfig     `yaml:"makeCall,omitempty" json:"makeCall,omitempty"`
	PlayMessage  *PlayMessageConfig  `yaml:"playMessage,omitempty" json:"playMessage,omitempty"`
	SetData      *SetDataConfig      `yaml:"setData,omitempty" json:"setData,omitempty"`
	RestCall     *RestCallConfig     `yaml:"restCall,omitempty" json:"restCall,omitempty"`
}

// OutPort is a named conditional exit from a step.
type OutPort struct {
	Port      string
	Condition string
}

// OutPorts preserves the declaration order of a step's outs. Transition
// resolution takes the first port whose condition evaluates true, so order
// is contract, not cosmetics.
type OutPorts []OutPort

func (o *OutPorts) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("outs must be a mapping of port name to condition")
	}
	ports := make(OutPorts, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		ports = append(ports, OutPort{
			Port:      node.Content[i].Value,
			Condition: node.Content[i+1].Value,
		})
	}
	*o = ports
	return nil
}

func (o OutPorts) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range o {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.Port},
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.Condition},
		)
	}
	return node, nil
}

// Intent is one entry of a gatherIntent step's intent catalog.
type Intent struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Criteria string `yaml:"criteria" json:"criteria" validate:"required"`
}

// Message is an ordered sequence of speakable elements.
type Message struct {
	Elements []MessageElement `yaml:"elements" json:"elements" validate:"dive"`
}

// MessageElement is a static tts fragment or a dynamic expression resolved
// against the context at render time.
type MessageElement struct {
	Type       string `yaml:"type" json:"type" validate:"required,oneof=tts dynamic"`
	Text       string `yaml:"text,omitempty" json:"text,omitempty"`
	SayAs      string `yaml:"sayAs,omitempty" json:"sayAs,omitempty"`
	Format     string `yaml:"format,omitempty" json:"format,omitempty"`
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

type GatherIntentConfig struct {
	Preamble                     string        `yaml:"preamble" json:"preamble"`
	AgentPrompt                  Message       `yaml:"agentPrompt" json:"agentPrompt"`
	Intents                      []Intent      `yaml:"intents" json:"intents" validate:"required,min=1,dive"`
	EntityExtractionInstructions string        `yaml:"entityExtractionInstructions,omitempty" json:"entityExtractionInstructions,omitempty"`
	AdditionalInstructions       string        `yaml:"additionalInstructions,omitempty" json:"additionalInstructions,omitempty"`
	Repeat                       *RepeatConfig `yaml:"repeat,omitempty" json:"repeat,omitempty"`
}

// RepeatConfig bounds reprompting of a gatherIntent step: repeat while
// Condition holds, at most Attempts tries in total.
type RepeatConfig struct {
	Condition string   `yaml:"condition" json:"condition" validate:"required"`
	Message   *Message `yaml:"message,omitempty" json:"message,omitempty"`
	Attempts  int      `yaml:"attempts" json:"attempts" validate:"gte=1"`
}

type MakeCallConfig struct {
	From             string  `yaml:"from" json:"from" validate:"required"`
	To               string  `yaml:"to" json:"to" validate:"required"`
	Timeout          int     `yaml:"timeout" json:"timeout"`
	CallAnnouncement Message `yaml:"callAnnouncement" json:"callAnnouncement"`
	LeaveAMCondition string  `yaml:"leaveAMCondition,omitempty" json:"leaveAMCondition,omitempty"`
}

type PlayMessageConfig struct {
	Message Message `yaml:"message" json:"message"`
}

type SetDataConfig struct {
	Expressions NamedExpressions `yaml:"expressions" json:"expressions" validate:"required"`
}

// NamedExpression is one "name: expression" entry of a setData step.
type NamedExpression struct {
	Name string
	Expr string
}

// NamedExpressions keeps the declaration order so the "first error" of a
// failed setData step is deterministic.
type NamedExpressions []NamedExpression

func (n *NamedExpressions) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expressions must be a mapping of name to expression")
	}
	exprs := make(NamedExpressions, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		exprs = append(exprs, NamedExpression{
			Name: node.Content[i].Value,
			Expr: node.Content[i+1].Value,
		})
	}
	*n = exprs
	return nil
}

func (n NamedExpressions) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range n {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Expr},
		)
	}
	return node, nil
}

// HeaderValue is either a literal header value or a secret reference
// resolved per tenant at request time.
type HeaderValue struct {
	Type      string `yaml:"type" json:"type" validate:"required,oneof=plain secret"`
	Value     string `yaml:"value,omitempty" json:"value,omitempty"`
	SecretRef string `yaml:"secretRef,omitempty" json:"secretRef,omitempty"`
}

// RestBodyValue is one node of a restCall body template: a static literal,
// a dynamic expression, or a nested object.
type RestBodyValue struct {
	Static     any
	Expression string
	Nested     RestBody
}

type RestBody map[string]RestBodyValue

func (v *RestBodyValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("rest body values must be mappings")
	}

	fields := map[string]*yaml.Node{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		fields[node.Content[i].Value] = node.Content[i+1]
	}

	if typeNode, ok := fields["type"]; ok {
		switch typeNode.Value {
		case "static":
			if valueNode, ok := fields["value"]; ok {
				return valueNode.Decode(&v.Static)
			}
			return nil
		case "dynamic":
			if exprNode, ok := fields["expression"]; ok {
				v.Expression = exprNode.Value
				return nil
			}
			return fmt.Errorf("dynamic rest body value is missing an expression")
		}
	}

	// No recognized leaf tag, so this is a nested object.
	return node.Decode(&v.Nested)
}

type HTTPHeaders map[string]HeaderValue

type RestCallConfig struct {
	URL     string      `yaml:"url" json:"url" validate:"required"`
	Method  string      `yaml:"method" json:"method" validate:"required,oneof=GET POST PUT DELETE"`
	Headers HTTPHeaders `yaml:"headers,omitempty" json:"headers,omitempty" validate:"dive"`
	Body    RestBody    `yaml:"body,omitempty" json:"body,omitempty"`
}

var validate = validator.New()

// Validate checks field-level constraints plus the structural invariants of
// the graph: the initial step exists, every link source names a declared
// step and out-port, and every link target is a declared step.
func (f *Flow) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("flow %s: %w", f.ID, err)
	}

	steps := make(map[string]*Step, len(f.Steps))
	for i := range f.Steps {
		s := &f.Steps[i]
		if _, dup := steps[s.Name]; dup {
			return fmt.Errorf("flow %s: duplicate step name %q", f.ID, s.Name)
		}
		steps[s.Name] = s
	}

	if _, ok := steps[f.InitialStepName]; !ok {
		return fmt.Errorf("flow %s: initial step %q is not a declared step", f.ID, f.InitialStepName)
	}

	for key, target := range f.Links {
		stepName, port, found := strings.Cut(key, ":")
		if !found {
			return fmt.Errorf("flow %s: link key %q is not of the form <stepName>:<port>", f.ID, key)
		}
		source, ok := steps[stepName]
		if !ok {
			return fmt.Errorf("flow %s: link %q references unknown step %q", f.ID, key, stepName)
		}
		if !source.Outs.declares(port) {
			return fmt.Errorf("flow %s: link %q references undeclared out-port %q of step %q", f.ID, key, port, stepName)
		}
		if _, ok := steps[target]; !ok {
			return fmt.Errorf("flow %s: link %q targets unknown step %q", f.ID, key, target)
		}
	}

	return nil
}

func (o OutPorts) declares(port string) bool {
	for _, p := range o {
		if p.Port == port {
			return true
		}
	}
	return false
}
