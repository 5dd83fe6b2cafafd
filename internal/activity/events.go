package activity

// Event names that form the contract surface between host dialogs and skill
// dialogs, beyond semantic-action slot data.
const (
	TokenRequestEventName          = "tokens/request"
	TokenResponseEventName         = "tokens/response"
	SkillBeginEventName            = "skillBegin"
	CancelAllSkillDialogsEventName = "skill/cancelallskilldialogs"
	StartConversationEventName     = "startConversation"
	DeviceStartEventName           = "DeviceStart"
)
