package tracker

import (
	"fmt"
	"strings"
)

// Filename returns the synthetic file name for this issue inside a
// query folder: <PREFIX>-<key>.txt.
func (i Issue) Filename() string {
	return fmt.Sprintf("%s-%s.txt", i.Kind.Prefix(), i.Key)
}

// RenderText returns the file content for this issue. The rendering is
// deterministic: equal issues produce byte-identical output, so file
// sizes reported by getattr stay consistent with reads.
func (i Issue) RenderText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s issue: %s\n", i.Kind.Title(), i.Key)
	fmt.Fprintf(&b, "Summary: %s\n", i.Summary)
	if i.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", i.Status)
	}
	if !i.Updated.IsZero() {
		fmt.Fprintf(&b, "Updated: %s\n", i.Updated.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(&b, "Description: %s\n", i.Description)
	for _, c := range i.Comments {
		b.WriteString(c.String())
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "End of %s issue %s information\n", i.Kind.Title(), i.Key)
	return b.String()
}
