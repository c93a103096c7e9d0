// Package llm contains adapters for text-generation providers. The agent only
// ever sees free text; turning that text into votes or decisions is the job of
// the expert and analysis packages.
package llm
