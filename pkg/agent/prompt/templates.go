// Package prompt provides the centralized prompt builder framework for all
// agent controllers. It composes system messages, user messages, instruction
// hierarchies, and strategy-specific formatting.
package prompt

// separator is a visual delimiter for prompt sections.
const separator = "═══════════════════════════════════════════════════════════════════════════════"

// analysisTask is the investigation task instruction appended to the user message.
const analysisTask = `## Your Task
Use the available tools to investigate this alert and provide:
1. Root cause analysis
2. Current system state assessment
3. Specific remediation steps for human operators
4. Prevention recommendations

Be thorough in your investigation before providing the final answer.`

// synthesisTask is the synthesis task instruction for combining parallel results.
const synthesisTask = `Synthesize the investigation results and provide your comprehensive analysis.`

// reactFormatInstructions teaches the textual ReAct format for investigations.
// Keep consistent with the controller's parser and its format correction
// reminder: sections start on their own line, and every response either calls
// a tool or concludes.
const reactFormatInstructions = `## ReAct Format

Structure your investigation as Thought/Action/Action Input cycles:

Thought: [your reasoning about what to investigate next]
Action: [tool name from the available tools list]
Action Input: [tool parameters]

STOP after "Action Input:". The system executes the tool and returns the result as:

Observation: [tool output]

Continue the cycle until you have enough information, then conclude:

Thought: [your final reasoning]
Final Answer: [your complete analysis]

Formatting rules:
1. Use colons: "Thought:", "Action:", "Action Input:", "Final Answer:"
2. Start each section on a NEW LINE (never continue on same line as previous text)
3. Stop after Action Input - the system provides Observations
4. Your response MUST include EITHER tool calling (Action + Action Input) OR Final Answer
5. For tools with no parameters, keep Action Input empty
6. NEVER write "Observation:" yourself`

// chatReActFormatInstructions is the chat-session variant: same mechanics,
// phrased for answering a follow-up question instead of running a full
// investigation.
const chatReActFormatInstructions = `## ReAct Format

Answer the user's question. When you need fresh data, call a tool:

Thought: [what the question needs and whether fresh data is required]
Action: [tool name from the available tools list]
Action Input: [tool parameters]

STOP after "Action Input:". The system executes the tool and returns the result as:

Observation: [tool output]

When the investigation history already answers the question, or once you have gathered enough fresh data, conclude:

Thought: [your final reasoning]
Final Answer: [your complete answer to the user's question]

Formatting rules:
1. Use colons: "Thought:", "Action:", "Action Input:", "Final Answer:"
2. Start each section on a NEW LINE (never continue on same line as previous text)
3. Stop after Action Input - the system provides Observations
4. Your response MUST include EITHER tool calling (Action + Action Input) OR Final Answer
5. For tools with no parameters, keep Action Input empty
6. NEVER write "Observation:" yourself`

// forcedConclusionTemplate is the base template for forced conclusion prompts.
// %d = iteration count, %s = format instructions.
const forcedConclusionTemplate = `You have reached the investigation iteration limit (%d iterations).

Please conclude your investigation by answering the original question based on what you've discovered.

**Conclusion guidance:**
- Use the data and observations you've already gathered
- Perfect information is not required - provide actionable insights from available findings
- If gaps remain, clearly state what you couldn't determine and why
- Clearly distinguish between conclusions supported by tool-gathered evidence and those based only on the original alert data
- If most tool calls failed, returned errors, or produced no meaningful data, explicitly state that your analysis is limited and primarily based on alert data
- Focus on practical next steps based on current knowledge

%s`

// reactForcedConclusionFormat closes a forced conclusion in ReAct shape so
// the parser can extract the final answer.
const reactForcedConclusionFormat = `CRITICAL: Do NOT call any more tools. Respond using exactly this structure:

Thought: [brief summary of what you were able to determine]
Final Answer: [your best analysis based on the investigation so far]`

// nativeThinkingForcedConclusionFormat asks for a plain-text conclusion; no
// ReAct scaffolding and no further tool calls.
const nativeThinkingForcedConclusionFormat = `Do NOT call any more tools. Provide a clear, structured conclusion that directly addresses the investigation question.`

// executiveSummarySystemPrompt is the system prompt for executive summary generation.
const executiveSummarySystemPrompt = `You are an expert Site Reliability Engineer assistant that creates concise 1-4 line executive summaries of incident analyses for alert notifications. Focus on clarity, brevity, and actionable information.`

// executiveSummaryUserTemplate is the user prompt for executive summary generation.
// %s = final analysis text.
const executiveSummaryUserTemplate = `Generate a 1-4 line executive summary of this incident analysis.

CRITICAL RULES:
- Only summarize what is EXPLICITLY stated in the analysis
- Do NOT infer future actions or recommendations not mentioned
- Do NOT add your own conclusions
- Focus on: what happened, current status, and ONLY stated next steps

Analysis to summarize:

=================================================================================
%s
=================================================================================

Executive Summary (1-4 lines, facts only):`
