package agent

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/keplerlab/kepler/pkg/config"
	"github.com/keplerlab/kepler/pkg/sections"
)

const promptTimeLayout = "2006-01-02 15:04:05"

// Minor section the model uses to request web searches, one query per line.
const searchRequestsSection = "SEARCH_REQUESTS"

const actionPromptFormat = `# %s - Action Cycle

## Your Identity and Goal
You are %s, an autonomous agent with the following goal:
%s
%s
## Your Memory
%s

## Current Time
The current time is %s

## Task
Based on your memory and goal, please:
1. Assess your current progress
2. Decide on the next action to take
3. Execute that action
4. Report the outcome and what you learned

Structure your response with these "###" sections so it can be integrated into your memory:

### Progress Assessment
Honest assessment of your progress toward the goal.

### Outcome and Learning Report
What your action produced and what you learned from it.

### Research Topics
Topics worth investigating in upcoming cycles.

### Next Steps
Your plan for the next cycles.

### Learnings
Durable insights worth keeping.

You may add any of these optional sections when warranted:

### SEARCH_REQUESTS
One web search query per line, only when fresh outside information would help.

### FINDING
A significant finding. Put a short title on the first line and the details below. Repeat the section for each finding.

### CONNECTION
A connection between previously separate ideas, in the same format as a finding.

### DISCOVERY_DECLARATION
Only when you are convinced you have made a genuine discovery, describe it here.

Focus on moving closer to your goal with each action.
`

const reflectionPromptFormat = `# %s - Reflection Session

## Your Identity and Goal
You are %s, an autonomous agent with the following goal:
%s

## Your Current Memory
%s

## Reflection Task
Please perform a thorough reflection on your progress toward your goal.
This is a higher-level, more strategic assessment than your regular action cycles.

Please include:

1. **Progress Assessment**: Honestly evaluate your progress toward your goal. What have you accomplished? Where are you falling short?

2. **Strategy Evaluation**: Is your current approach working? What adjustments to your strategy might help you be more effective?

3. **Insights and Patterns**: What patterns or insights have emerged that weren't obvious before? What have you learned that changes how you view your goal or approach?

4. **Obstacles and Solutions**: What obstacles are you facing? What solutions might overcome them?

5. **Next Steps**: Based on this reflection, what should your focus be for the next phase of work?

Provide your reflection in a clear, structured format. Be honest, critical, and constructive.
This reflection will guide your future actions, so make it as useful as possible.
`

const analysisPromptFormat = `# %s - Search Analysis

## Your Identity and Goal
You are %s, an autonomous agent with the following goal:
%s

## Search Results
%s

## Task
Analyze these results for the query %q in the context of your goal.
Summarize what is relevant, note anything that challenges your current thinking,
and state how the results should influence your next steps. Be concise.
`

func buildActionPrompt(cfg config.AgentConfig, memoryContent string, now time.Time) string {
	focus := ""
	if strings.TrimSpace(cfg.TaskFocus) != "" {
		focus = "\nYour current focus:\n" + strings.TrimSpace(cfg.TaskFocus) + "\n"
	}
	return fmt.Sprintf(actionPromptFormat,
		cfg.Name, cfg.Name, cfg.Goal, focus, memoryContent, now.Format(promptTimeLayout))
}

func buildReflectionPrompt(cfg config.AgentConfig, memoryContent string) string {
	return fmt.Sprintf(reflectionPromptFormat, cfg.Name, cfg.Name, cfg.Goal, memoryContent)
}

func buildAnalysisPrompt(cfg config.AgentConfig, query, formattedResults string) string {
	return fmt.Sprintf(analysisPromptFormat, cfg.Name, cfg.Name, cfg.Goal, formattedResults, query)
}

// Leading list bullet or numbering on a query line.
var listMarker = regexp.MustCompile(`^(?:[-*+•]+|\d+[.)])\s*`)

// parseSearchRequests pulls the queries out of the response's
// SEARCH_REQUESTS section, one per non-empty line, stripped of list
// markers. A positive limit caps how many are returned.
func parseSearchRequests(response string, limit int) []string {
	body := sections.ExtractAt(response, searchRequestsSection, sections.Minor)
	var queries []string
	for _, line := range strings.Split(body, "\n") {
		query := strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if query == "" {
			continue
		}
		queries = append(queries, query)
		if limit > 0 && len(queries) == limit {
			break
		}
	}
	return queries
}
