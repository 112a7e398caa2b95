package dispatch

// User-facing texts. Short and never technical.
const (
	replyModePrompt  = "hi! how do you want to use me?"
	replyModeChat    = "chat mode on. send me a message."
	replyModeImage   = "image mode on. describe the picture you want."
	replyModeUsage   = "usage: /mode chat or /mode image"
	replyImageUsage  = "usage: /image <description of the picture>"
	replyReset       = "memory wiped"
	replyRateLimited = "i'm a bit busy right now, try again in a minute."
	replyFailed      = "something went wrong, please try again."
	replyHelp        = "commands:\n/mode chat - talk with me\n/mode image - make pictures\n/image <description> - one picture in any mode\n/reset - forget our conversation\n/help - this message"
)
