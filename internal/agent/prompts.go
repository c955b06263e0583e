package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/storyforge/internal/task"
)

const analysisPrompt = `You are a software architect. Describe entities and actions as OpenAPI objects.
Use English only. Analyse the following user story and extract:
- requirements
- entities
- actions
- complexity
- architecture

Answer in JSON:

{
  "requirements": [
    { "name": "string", "description": "string" }
  ],
  "entities": [
    { "name": "string", "description": "string", "properties": { "propertyName": { "type": "string", "description": "string" } } }
  ],
  "actions": [
    { "name": "string", "description": "string", "method": "GET|POST|PUT|DELETE", "path": "/api/example", "parameters": { "paramName": { "type": "string", "description": "string" } } }
  ],
  "complexity": "low|medium|high",
  "architecture": "a comma separated list of architectural styles, e.g. microservices, monolith, serverless, ddd, hexagonal, layered, event-driven, cqrs, clean, modular"
}

User Story:
%s

Important rules:
- Use OpenAPI objects for entities and actions.
- Always include concrete field names and data types for all relevant entities.
- Use basic data models with the properties and references needed to cover the user story.
- Only create files that are necessary to implement the user story.
- Only create REST APIs that are necessary to implement the user story.
- No templates, no boilerplate code or html rendering.
- Return valid JSON. Do not escape slashes; write paths and namespaces with plain / and \.
`

const planningPrompt = `You are a software architect.
Based on the requirements, plan the files needed and their purpose.

Requirements: %s
Entities: %s
Actions: %s
Complexity: %s
Architecture: %s

Answer in JSON:
{
  "files": [
    {"name": "Patient.php", "purpose": "Entity for patient data"},
    {"name": "DashboardController.php", "purpose": "Controller for the dashboard"},
    {"name": "AuthService.php", "purpose": "Login and authentication"}
  ]
}

Important rules:
- Always include concrete field names and data types for all relevant entities.
- Only create REST APIs, no templates, no boilerplate code or html rendering.
- Return valid JSON. Do not escape slashes; write paths and namespaces with plain / and \.
`

const feedbackPrompt = `The coder gave this answer and needs more details to continue:

"""
%s
"""

Work out exactly which information is missing or requested in the coder response. Fill those gaps as concretely as possible.

Return valid JSON:
{
  "requirements": [
    { "name": "string", "description": "string" }
  ],
  "entities": [
    { "name": "string", "description": "string", "properties": { "propertyName": { "type": "string", "description": "string" } } }
  ],
  "actions": [
    { "name": "string", "description": "string", "method": "GET|POST|PUT|DELETE", "path": "/api/example" }
  ],
  "files": [
    { "name": "string", "purpose": "string" }
  ],
  "complexity": "low|medium|high",
  "architecture": "a comma separated list of architectural styles"
}

Rules:
- If methods are missing from the code, define them with name and purpose.
- If the coder raises unclear points, make sensible assumptions and provide defaults.
- Answer with JSON only, no explanations or comments.
- Only create files that are necessary to implement the user story.
`

const coderPrompt = `You are a PHP developer. You follow PSR standards and best practices.
Your preferred libraries are Mezzio, Laminas, Doctrine and Monolog.
Never use closing PHP tags in .php files. Here is the project in compact form:

Requirements: %s
Entities: %s
Actions: %s
Complexity: %s
Architecture: %s

Your task: generate ONLY the file **%s**.

IMPORTANT:
- Use English only
- Return only the plain PHP code
- Maximum line length: 80 characters
- Use PHP 8.2+ features where sensible
- Always open with <?php and never close the tag
- No explanations, no additional text
- Done = when this one file is complete
- Use PHP generics (@template T) where sensible
- Be compatible with phpstan and psalm
`

const toolsHint = `MORE INFORMATION:
- If you need external assets (e.g. images), answer with JSON only:
`

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

// BuildCoderPrompt renders the per-file prompt from the live analysis
func BuildCoderPrompt(v task.AnalysisView, fileName string) string {
	return fmt.Sprintf(coderPrompt,
		jsonList(v.Requirements),
		jsonList(v.Entities),
		jsonList(v.Actions),
		v.Complexity,
		v.Architecture,
		fileName)
}

func buildToolsHint(names []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(toolsHint)
	for _, n := range names {
		fmt.Fprintf(&b, "  {\"tool\": %q, \"param\": \"description of what you need\"}\n", n)
	}
	return b.String()
}
