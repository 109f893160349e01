package toolify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Tool describes a callable tool advertised to the backend.
type Tool struct {
	Name        string
	Description string
	// InputSchema is the JSON schema of the tool input object.
	InputSchema json.RawMessage
}

// ChoiceMode controls whether and which tool the backend must call.
type ChoiceMode string

const (
	ChoiceAuto ChoiceMode = "auto"
	ChoiceAny  ChoiceMode = "any"
	ChoiceTool ChoiceMode = "tool"
	ChoiceNone ChoiceMode = "none"
)

// Choice is the caller's tool choice. Name is only used with ChoiceTool.
type Choice struct {
	Mode ChoiceMode
	Name string
}

const promptTemplate = `You can call the tools described in <function_list> at the end of this message.

To call tools, write the line {trigger} on its own, then one <invoke> block per call:

{trigger}
<invoke name="tool_name">
<parameter name="parameter_name">value</parameter>
</invoke>

Rules:
- Only write {trigger} when you are calling tools right now, and write nothing after the last </invoke>.
- Numbers, booleans, arrays and objects are written as JSON. Strings may be written as-is.
- Tool results come back in <tool_result> blocks in a later user turn. Never write them yourself.
{choice}
{tools}`

// RenderPrompt renders the system prompt teaching the backend the trigger
// convention for the given tools.
func RenderPrompt(trigger string, tools []Tool, choice Choice) string {
	var choiceLine string
	switch choice.Mode {
	case ChoiceAny:
		choiceLine = "- You must call at least one tool in this reply.\n"
	case ChoiceTool:
		choiceLine = fmt.Sprintf("- You must call the tool %q in this reply.\n", choice.Name)
	}

	return strings.NewReplacer(
		"{trigger}", trigger,
		"{choice}", choiceLine,
		"{tools}", renderFunctionList(tools),
	).Replace(promptTemplate)
}

// renderFunctionList renders the tool catalogue as XML-like markup.
func renderFunctionList(tools []Tool) string {
	var b strings.Builder
	b.WriteString("<function_list>\n")
	for i, tool := range tools {
		fmt.Fprintf(&b, "<tool id=\"%d\">\n", i+1)
		fmt.Fprintf(&b, "  <name>%s</name>\n", textEscaper.Replace(tool.Name))
		if tool.Description != "" {
			fmt.Fprintf(&b, "  <description>%s</description>\n", textEscaper.Replace(tool.Description))
		}

		schema := gjson.ParseBytes(tool.InputSchema)
		required := make(map[string]bool)
		var requiredNames []string
		schema.Get("required").ForEach(func(_, v gjson.Result) bool {
			required[v.String()] = true
			requiredNames = append(requiredNames, v.String())
			return true
		})
		if len(requiredNames) > 0 {
			b.WriteString("  <required>")
			for _, name := range requiredNames {
				fmt.Fprintf(&b, "<param>%s</param>", textEscaper.Replace(name))
			}
			b.WriteString("</required>\n")
		}

		props := schema.Get("properties")
		if !props.IsObject() {
			b.WriteString("  <parameters/>\n</tool>\n")
			continue
		}
		b.WriteString("  <parameters>\n")
		props.ForEach(func(key, prop gjson.Result) bool {
			name := key.String()
			fmt.Fprintf(&b, "    <parameter name=\"%s\">\n", attrEscaper.Replace(name))
			fmt.Fprintf(&b, "      <type>%s</type>\n", textEscaper.Replace(schemaType(prop)))
			fmt.Fprintf(&b, "      <required>%t</required>\n", required[name])
			if desc := prop.Get("description"); desc.Exists() {
				fmt.Fprintf(&b, "      <description>%s</description>\n", textEscaper.Replace(desc.String()))
			}
			if enum := prop.Get("enum"); enum.IsArray() {
				fmt.Fprintf(&b, "      <enum>%s</enum>\n", textEscaper.Replace(enum.Raw))
			}
			b.WriteString("    </parameter>\n")
			return true
		})
		b.WriteString("  </parameters>\n</tool>\n")
	}
	b.WriteString("</function_list>")
	return b.String()
}

// schemaType returns the declared JSON schema type, joining union types.
func schemaType(prop gjson.Result) string {
	t := prop.Get("type")
	switch {
	case t.IsArray():
		var types []string
		for _, v := range t.Array() {
			types = append(types, v.String())
		}
		return strings.Join(types, "|")
	case t.Exists():
		return t.String()
	default:
		return "any"
	}
}
