package handler

import (
	"errors"
	"regexp"

	"github.com/zwily/faye-presence/internal/ierr"
)

type ChannelValidator struct {
	channelRegex *regexp.Regexp

	// Only channels matching presenceRegex take part in presence tracking;
	// the rest are plain subscriptions with no roster.
	presenceRegex *regexp.Regexp
}

func NewChannelValidator(presencePattern string) (*ChannelValidator, error) {
	presenceRegex, err := regexp.Compile(presencePattern)
	if err != nil {
		return nil, err
	}

	return &ChannelValidator{
		channelRegex:  regexp.MustCompile(`^([\w-]+:?)*\w$`),
		presenceRegex: presenceRegex,
	}, nil
}

func (v *ChannelValidator) Validate(channel string) error {
	valid := v.channelRegex.MatchString(channel)
	if !valid {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid channel"))
	}

	return nil
}

func (v *ChannelValidator) IsPresenceChannel(channel string) bool {
	return v.presenceRegex.MatchString(channel)
}
