package analysis

import (
	"fmt"
	"strings"

	"github.com/flowmend/flowmend/pkg/models"
)

const analyzeSystemPrompt = `You diagnose failed workflow executions and propose a concrete fix as a structured change set.

Respond with a single JSON object and nothing else, in exactly this shape:
{
  "root_cause": "what actually went wrong",
  "explanation": "plain-language explanation for the workflow owner",
  "affected_nodes": ["node names involved"],
  "confidence": "high" | "medium" | "low",
  "doc_refs": ["labels of documentation you relied on"],
  "proposal": {
    "description": "one-line summary of the fix",
    "reversible": true,
    "changes": [
      {"kind": "modify_node", "node": "Node Name", "path": "parameters.url", "value": "...", "description": "what this change does"}
    ]
  }
}

Change kinds and their payloads:
- "modify_node": set "node"; either a dotted "path" with any "value", or no path and an object "value" merged onto the node. Never touch credentials.
- "add_node": "value" is the new node object and must carry at least "name" and "type".
- "remove_node": set "node" to the node to delete.
- "modify_connection": "value" is {"from": "...", "to": "...", "action": "add" | "remove", "outputIndex": 0, "inputIndex": 0}.
- "modify_settings": either a dotted "path" with any "value", or an object "value" merged onto the workflow settings.

Propose at least one change. Prefer the smallest fix that addresses the root cause.`

const converseSystemPrompt = `You are discussing a proposed workflow fix with its owner. Answer their question about the failure or the proposal.

Respond with a single JSON object: {"reply": "your answer", "doc_refs": ["labels of documentation you cite"]}. If you cannot produce JSON, reply in plain text.`

func buildAnalyzePrompt(req AnalyzeRequest) string {
	var b strings.Builder

	b.WriteString("A workflow execution failed. Diagnose it and propose a fix.\n\n")
	writeReport(&b, req.Report)
	writeClassification(&b, req.Parsed)
	writeWorkflow(&b, req.Workflow)
	writeDocs(&b, req.Docs)

	return b.String()
}

func buildRevisePrompt(req ReviseRequest) string {
	var b strings.Builder

	b.WriteString("A fix was proposed for a failed workflow execution, and the owner wants a different one. Produce a new proposal that supersedes the previous one entirely.\n\n")
	writeReport(&b, req.Report)
	writeWorkflow(&b, req.Workflow)
	writePrior(&b, req.Prior)
	writeConversation(&b, req.Conversation)
	writeDocs(&b, req.Docs)
	fmt.Fprintf(&b, "Owner's instruction for the new proposal:\n%s\n", req.Instruction)

	return b.String()
}

func buildConversePrompt(req ConverseRequest) string {
	var b strings.Builder

	b.WriteString("The owner of a failed workflow has a question about the proposed fix.\n\n")
	writeReport(&b, req.Report)
	writeWorkflow(&b, req.Workflow)
	writePrior(&b, req.Analysis)
	writeConversation(&b, req.Conversation)
	writeDocs(&b, req.Docs)
	fmt.Fprintf(&b, "Owner's question:\n%s\n", req.Message)

	return b.String()
}

func writeReport(b *strings.Builder, report *models.ErrorReport) {
	if report == nil {
		return
	}

	b.WriteString("## Failure\n")
	fmt.Fprintf(b, "Workflow: %s", report.WorkflowID)

	if report.WorkflowName != "" {
		fmt.Fprintf(b, " (%s)", report.WorkflowName)
	}

	b.WriteString("\n")

	if report.ExecutionID != "" {
		fmt.Fprintf(b, "Execution: %s\n", report.ExecutionID)
	}

	if report.NodeName != "" {
		fmt.Fprintf(b, "Failing node: %s\n", report.NodeName)
	}

	if report.NodeType != "" {
		fmt.Fprintf(b, "Failing node type: %s\n", report.NodeType)
	}

	fmt.Fprintf(b, "Error message: %s\n", report.Message)

	if report.StackTrace != "" {
		fmt.Fprintf(b, "Stack trace:\n%s\n", truncate(report.StackTrace, 2000))
	}

	b.WriteString("\n")
}

func writeClassification(b *strings.Builder, parsed *models.ParsedError) {
	if parsed == nil {
		return
	}

	b.WriteString("## Classification\n")
	fmt.Fprintf(b, "Category: %s (severity %s)\n", parsed.Category, parsed.Severity)

	if len(parsed.AffectedAreas) > 0 {
		fmt.Fprintf(b, "Affected areas: %s\n", strings.Join(parsed.AffectedAreas, ", "))
	}

	if len(parsed.Keywords) > 0 {
		fmt.Fprintf(b, "Keywords: %s\n", strings.Join(parsed.Keywords, ", "))
	}

	b.WriteString("\n")
}

func writeWorkflow(b *strings.Builder, doc *models.WorkflowDocument) {
	if doc == nil {
		return
	}

	b.WriteString("## Workflow\n")
	fmt.Fprintf(b, "Name: %s (id %s)\n", doc.Name, doc.ID)
	b.WriteString("Nodes:\n")

	for _, node := range doc.Nodes {
		if node == nil {
			continue
		}

		fmt.Fprintf(b, "- %s (type %s, version %g)", node.Name, node.Type, node.TypeVersion)

		if node.Disabled {
			b.WriteString(" [disabled]")
		}

		b.WriteString("\n")
	}

	if len(doc.Connections) > 0 {
		b.WriteString("Connections:\n")

		for source, slots := range doc.Connections {
			for slot, targets := range slots {
				for _, target := range targets {
					fmt.Fprintf(b, "- %s[%d] -> %s[%d]\n", source, slot, target.Node, target.Index)
				}
			}
		}
	}

	b.WriteString("\n")
}

func writePrior(b *strings.Builder, prior *models.Analysis) {
	if prior == nil {
		return
	}

	b.WriteString("## Current proposal\n")
	fmt.Fprintf(b, "Root cause: %s\n", prior.RootCause)
	fmt.Fprintf(b, "Explanation: %s\n", prior.Explanation)

	if prior.Proposal != nil {
		fmt.Fprintf(b, "Fix: %s\n", prior.Proposal.Description)

		for _, change := range prior.Proposal.Changes {
			fmt.Fprintf(b, "- [%s] %s\n", change.Kind, change.Description)
		}
	}

	b.WriteString("\n")
}

func writeConversation(b *strings.Builder, entries []models.ConversationEntry) {
	if len(entries) == 0 {
		return
	}

	b.WriteString("## Conversation so far\n")

	for _, entry := range entries {
		fmt.Fprintf(b, "%s: %s\n", entry.Role, entry.Text)
	}

	b.WriteString("\n")
}

func writeDocs(b *strings.Builder, docs []models.DocSnippet) {
	if len(docs) == 0 {
		return
	}

	b.WriteString("## Documentation\n")

	for _, doc := range docs {
		fmt.Fprintf(b, "### %s\n%s\n", doc.Label, truncate(doc.Content, 1200))
	}

	b.WriteString("\n")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "..."
}
