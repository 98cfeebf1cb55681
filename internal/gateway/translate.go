package gateway

import (
	"fmt"
	"math"
	"strings"
)

// fallbackDisplayName mirrors authors whose profile carries no usable name.
const fallbackDisplayName = "Discord User"

// displayName derives the mirrored author name: global name first, then the
// legacy username#discriminator form (discriminator "0" means the account
// migrated to unique usernames), then the bare username.
func displayName(u *eventUser) string {
	if u == nil {
		return fallbackDisplayName
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	if u.Username != "" {
		if u.Discriminator != "" && u.Discriminator != "0" {
			return u.Username + "#" + u.Discriminator
		}
		return u.Username
	}
	return fallbackDisplayName
}

// avatarURL builds the CDN avatar address; empty when either part is
// missing.
func avatarURL(u *eventUser) string {
	if u == nil || u.ID == "" || u.Avatar == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", u.ID, u.Avatar)
}

// reactionAuthor picks the user behind a reaction event. The guild member's
// embedded user wins over the top-level one, which lacks profile fields;
// remove events often carry only the bare user_id.
func reactionAuthor(ev reactionEventData) *eventUser {
	if ev.Member != nil && ev.Member.User != nil {
		return ev.Member.User
	}
	if ev.User != nil {
		return ev.User
	}
	if ev.UserID != "" {
		return &eventUser{ID: ev.UserID}
	}
	return nil
}

// Attachment is a message attachment after normalization.
type Attachment struct {
	Filename string
	URL      string
	Size     int64
}

// normalizeAttachments trims names and addresses, drops entries left empty
// by the trim, and zeroes sizes that are negative or not finite. Input
// order is preserved.
func normalizeAttachments(in []eventAttachment) []Attachment {
	out := make([]Attachment, 0, len(in))
	for _, a := range in {
		filename := strings.TrimSpace(a.Filename)
		url := strings.TrimSpace(a.URL)
		if filename == "" || url == "" {
			continue
		}
		size := a.Size
		if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
			size = 0
		}
		out = append(out, Attachment{Filename: filename, URL: url, Size: int64(size)})
	}
	return out
}
