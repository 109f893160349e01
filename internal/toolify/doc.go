// Package toolify implements prompt-injected tool calling over plain text
// completion streams.
//
// The backend is told to announce each tool invocation with a per-request
// trigger marker followed by one or more invocation fragments:
//
//	<<CALL_1a2b3c>>
//	<invoke name="get_weather">
//	<parameter name="city">"New York"</parameter>
//	</invoke>
//
// Parser recovers those invocations from the character stream and turns
// everything else into text events. RenderPrompt produces the system prompt
// that teaches the backend the convention.
package toolify
