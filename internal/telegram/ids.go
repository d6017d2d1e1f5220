package telegram

import "fmt"

// Bot API encodes channel ids as -100 followed by the MTProto id.
const channelIDShift = 1_000_000_000_000

// ChannelID converts a Bot API channel id such as -1001234567890 to its MTProto id.
func ChannelID(botAPIID int64) (int64, error) {
	if botAPIID > -channelIDShift {
		return 0, fmt.Errorf("%d is not a channel id", botAPIID)
	}
	return -botAPIID - channelIDShift, nil
}

// BotAPIChannelID converts an MTProto channel id back to the Bot API form.
func BotAPIChannelID(channelID int64) int64 {
	return -(channelID + channelIDShift)
}
