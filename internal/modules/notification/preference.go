package notification

// deliveryChannels maps a stored delivery-method preference to the channel
// subset it selects. "all" always yields every external channel and is the
// value forced for emergency broadcasts.
var deliveryChannels = map[DeliveryMethod][]Channel{
	DeliverEmail:     {ChannelEmail},
	DeliverSMS:       {ChannelSMS},
	DeliverPush:      {ChannelPush},
	DeliverEmailSMS:  {ChannelEmail, ChannelSMS},
	DeliverEmailPush: {ChannelEmail, ChannelPush},
	DeliverSMSPush:   {ChannelSMS, ChannelPush},
	DeliverAll:       {ChannelEmail, ChannelSMS, ChannelPush},
}

// ChannelsFor resolves a (preference, category) pair into the ordered,
// deduplicated channel set the orchestrator should fan out to.
//
// A disabled frequency suppresses the category entirely: no records are
// created downstream. An unknown delivery value falls back to email, matching
// the stored-preference defaulting of the rest of the engine.
func ChannelsFor(pref *Preference, category Category) []Channel {
	setting := pref.Setting(category)
	if setting.Frequency == FrequencyDisabled {
		return nil
	}
	channels, ok := deliveryChannels[setting.Delivery]
	if !ok {
		return []Channel{ChannelEmail}
	}
	// Copy so callers can't mutate the table through the returned slice.
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

// DedupeChannels preserves order while dropping repeated or unknown channel
// values from an explicit caller-supplied list.
func DedupeChannels(in []Channel) []Channel {
	seen := make(map[Channel]struct{}, len(in))
	out := make([]Channel, 0, len(in))
	for _, ch := range in {
		if !ValidChannel(ch) {
			continue
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}
