package catalog

var scenarioOrder = []string{
	"role_shift", "sudden_priority_change", "cross_functional_collaboration", "tech_tool_overhaul", "ambiguous_brief",
	"unnoticed_effort", "tense_review", "overwhelmed_colleague", "feeling_of_exclusion", "burnout_moment",
	"jargon_confusion", "tone_misread", "unclear_expectations", "misaligned_feedback", "over_communication",
	"email_escalation", "meeting_misstep",
}

var scenarios = map[string]Scenario{
	// Adaptability
	"role_shift": {
		ID: "role_shift", Category: CategoryAdaptability,
		Name: "The Role Shift - Adapting to New Responsibilities",
		Context: `- It's Monday morning.
• You’ve just been moved from design support to client coordination, a faster-paced, higher-pressure role.
• Your new manager calls for a quick sync to check how you’re adjusting to new expectations and responsibilities.
• The transition is abrupt, and you may feel uncertain about how to perform or fit in with the new team.`,
	},
	"sudden_priority_change": {
		ID: "sudden_priority_change", Category: CategoryAdaptability,
		Name: "The Sudden Priority Change - Shifting Direction",
		Context: `- It's Wednesday afternoon.
• Yesterday’s sprint plan was scrapped; leadership reprioritized deliverables overnight.
• Your manager calls to explain the new focus and reassign tasks immediately.
• Everything feels rushed, and you must pivot quickly with limited clarity on goals.`,
	},
	"cross_functional_collaboration": {
		ID: "cross_functional_collaboration", Category: CategoryAdaptability,
		Name: "The Cross-Functional Collaboration - Adjusting to New Work Cultures",
		Context: `- It's Thursday morning.
• You’ve been added to a joint project with the marketing team, whose communication and pace differ from your usual environment.
• You’re trying to adapt to their workflow and expectations.
• Your manager checks in to see how the collaboration is going and whether you’re finding alignment.`,
	},
	"tech_tool_overhaul": {
		ID: "tech_tool_overhaul", Category: CategoryAdaptability,
		Name: "The Tech Tool Overhaul - Learning New Systems Fast",
		Context: `- It's Tuesday morning.
• The company has rolled out a new project management tool.
• You’re struggling to navigate it while others seem to adapt quickly.
• You’ve already missed one update because of confusion around notifications.`,
	},
	"ambiguous_brief": {
		ID: "ambiguous_brief", Category: CategoryAdaptability,
		Name: "The Ambiguous Brief - Handling Unclear Direction",
		Context: `- It's Friday morning.
• You’ve been told to 'own the internal communication refresh' without clear direction or metrics.
• The manager expects you to take initiative and clarify next steps.
• You feel hesitant to make assumptions but need to move forward.`,
	},

	// Emotional intelligence
	"unnoticed_effort": {
		ID: "unnoticed_effort", Category: CategoryEmotionalIntelligence,
		Name: "The Unnoticed Effort - Managing Feelings of Overlooked Contribution",
		Context: `- It's Friday evening.
• The team completed a big presentation, but your extra effort wasn’t acknowledged.
• During a check-in, the manager notices your quiet mood and asks how you’re feeling.
• You may be experiencing disappointment or disengagement.`,
	},
	"tense_review": {
		ID: "tense_review", Category: CategoryEmotionalIntelligence,
		Name: "The Tense Review - Processing Constructive Criticism",
		Context: `- It's Wednesday afternoon.
• You received mixed feedback on a deliverable earlier in the day.
• Since then, you’ve been withdrawn and quiet in meetings.
• The manager calls to discuss how you’re processing the feedback and what support might help.`,
	},
	"overwhelmed_colleague": {
		ID: "overwhelmed_colleague", Category: CategoryEmotionalIntelligence,
		Name: "The Overwhelmed Colleague - Emotional Awareness at Work",
		Context: `- It's Monday morning.
• A teammate snapped during the last meeting, and you tried to mediate.
• The manager checks in to understand the team’s emotional climate and how you’re coping.
• The discussion may touch on empathy, stress, and team boundaries.`,
	},
	"feeling_of_exclusion": {
		ID: "feeling_of_exclusion", Category: CategoryEmotionalIntelligence,
		Name: "The Feeling of Exclusion - Rebuilding Engagement",
		Context: `- It's Tuesday afternoon.
• A strategy meeting happened without your involvement, even though it impacted your project.
• You learned about it through a group chat.
• The manager reaches out after noticing you’ve been quieter or less engaged.`,
	},
	"burnout_moment": {
		ID: "burnout_moment", Category: CategoryEmotionalIntelligence,
		Name: "The Burnout Moment - Addressing Overload and Mental Fatigue",
		Context: `- It's Thursday evening.
• You’ve been juggling multiple deliverables and start feeling mentally drained.
• You confide that it’s hard to stay focused.
• The manager must balance empathy with a realistic plan for recovery and productivity.`,
	},

	// Communication
	"jargon_confusion": {
		ID: "jargon_confusion", Category: CategoryCommunication,
		Name: "The Jargon Confusion - Clarifying Corporate Language",
		Context: `- It's Monday afternoon.
• The manager used terms like 'circle back on KPIs' and 'realign with sprint objectives.'
• You didn’t understand but didn’t ask for clarification.
• The task is now off-track, and the manager is calling to reset expectations.`,
	},
	"tone_misread": {
		ID: "tone_misread", Category: CategoryCommunication,
		Name: "The Tone Misread - Navigating Perceived Harshness",
		Context: `- It's Tuesday morning.
• The manager sent a short message: 'Need that fixed, it’s not client-ready.'
• You read it as angry or dismissive.
• The follow-up conversation aims to clarify tone and restore comfortable communication.`,
	},
	"unclear_expectations": {
		ID: "unclear_expectations", Category: CategoryCommunication,
		Name: "The Unclear Expectations - Realigning on Task Scope",
		Context: `- It's Wednesday afternoon.
• You submitted a report as you understood it, but the manager expected deeper analysis.
• Both sides think their instructions were clear.
• The conversation is about bridging gaps in understanding.`,
	},
	"misaligned_feedback": {
		ID: "misaligned_feedback", Category: CategoryCommunication,
		Name: "The Misaligned Feedback - Interpreting Manager Cues",
		Context: `- It's Thursday morning.
• After your presentation, the manager said, 'Good work, but next time, tighten it up.'
• You thought it meant minor edits, but they expected major revisions.
• This call is about clarifying feedback and aligning on expectations.`,
	},
	"over_communication": {
		ID: "over_communication", Category: CategoryCommunication,
		Name: "The Over-Communication - Finding the Right Level of Detail",
		Context: `- It's Friday morning.
• Your updates are long and detailed, sometimes overwhelming busy teammates.
• The manager calls to discuss concise, impactful communication and time efficiency.`,
	},
	"email_escalation": {
		ID: "email_escalation", Category: CategoryCommunication,
		Name: "The Email Escalation - Navigating Communication Hierarchies",
		Context: `- It's Tuesday afternoon.
• You cc’d upper management on an issue instead of speaking to your direct manager first.
• The manager calls to discuss communication channels, trust, and professional boundaries.`,
	},
	"meeting_misstep": {
		ID: "meeting_misstep", Category: CategoryCommunication,
		Name: "The Meeting Misstep - Practicing Awareness in Virtual Settings",
		Context: `- It's Friday afternoon.
• During a virtual client prep call, you unintentionally interrupted multiple times.
• The manager follows up to discuss active listening and meeting etiquette.`,
	},
}
