// Package format renders user content and attachments into the message body
// shape the agent prompt depends on. The output is bit-exact: downstream
// prompts and stored history both embed it verbatim, so any change here is a
// breaking change to persisted sessions.
package format

import (
	"encoding/json"

	"github.com/propfolio/researchd/pkg/models"
)

// Message renders user content with an optional attachment list.
//
// Without attachments:
//
//	<MAIN_TASK>
//	{content}
//	</MAIN_TASK>
//
// With attachments, an ADDITIONAL_CONTEXT block holding the canonical
// 2-space-indented JSON of the attachment array precedes the task block,
// separated by a blank line.
func Message(content string, attachments []models.Attachment) string {
	task := "<MAIN_TASK>\n" + content + "\n</MAIN_TASK>"
	if len(attachments) == 0 {
		return task
	}
	return "<ADDITIONAL_CONTEXT>\n" + PrettyJSON(attachments) + "\n</ADDITIONAL_CONTEXT>\n\n" + task
}

// PrettyJSON returns the canonical 2-space-indented JSON of v. Attachments
// are serialized exactly as received; ordering is the caller's.
func PrettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		// Only unsupported types can fail here, and attachments are plain data.
		return "[]"
	}
	return string(b)
}
