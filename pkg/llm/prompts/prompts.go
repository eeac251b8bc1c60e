// Package prompts builds the instruction texts sent to the model during a
// turn: one asking for a single SQLite query, one asking for a natural
// language answer grounded on that query and its result. Both are
// deterministic in their inputs.
package prompts

import (
	"strings"
	"text/template"
)

// SQLPromptTemplate asks the model for one SQLite statement and nothing else.
const SQLPromptTemplate = `Given the user's question and the table schema below, write one syntactically correct SQLite query that answers it.
Unless the question asks for a specific number of results, return at most 5 rows using the LIMIT clause.
You may order the results to return the most informative rows.
Never select all columns with SELECT *; select only the columns needed to answer the question.
Output ONLY the SQL statement, with no explanation, comments or markdown. It will be executed as-is against a SQLite database.

Question: {{.Question}}

Table Schema:
{{.Schema}}`

// AnswerPromptTemplate asks the model to answer from a query and its result.
const AnswerPromptTemplate = `Given the SQL query and its result below, answer the user's question in natural language.
Base the answer only on the result. If the result is None the query failed; say that the data could not be retrieved.

Query: {{.Query}}

Result: {{.Result}}

User's Question: {{.Question}}`

var (
	sqlPrompt    = template.Must(template.New("sql").Parse(SQLPromptTemplate))
	answerPrompt = template.Must(template.New("answer").Parse(AnswerPromptTemplate))
)

// BuildSQLPrompt returns the query-generation instruction for question over
// the table described by schemaText.
func BuildSQLPrompt(question, schemaText string) string {
	return render(sqlPrompt, map[string]string{
		"Question": question,
		"Schema":   schemaText,
	})
}

// BuildAnswerPrompt returns the answer-generation instruction. resultText
// is the formatted query result, "None" when the query failed.
func BuildAnswerPrompt(question, query, resultText string) string {
	return render(answerPrompt, map[string]string{
		"Question": question,
		"Query":    query,
		"Result":   resultText,
	})
}

func render(t *template.Template, data map[string]string) string {
	var b strings.Builder
	// Executing a parsed template over a string map into a Builder cannot fail.
	_ = t.Execute(&b, data)
	return b.String()
}

// CleanSQL strips surrounding whitespace and markdown code fences that a
// model may wrap around its query. The statement itself is not validated.
func CleanSQL(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the info string, e.g. "sql"
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimPrefix(s, "sqlite"), "sql")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
