package telegram

import (
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/media"
)

const (
	processingPhotoText = "📸 Processing your photo securely..."
	processingVideoText = "🎥 Processing your video securely...\n⏳ This may take several minutes."
	photoDoneCaption    = "✅ *Metadata removed!*\n\n⚠️ Remember:\n• Verify with a metadata viewer\n• Visual content may still identify you\n• Use additional security measures"
	videoDoneCaption    = "✅ *Metadata removed!*\n\n⚠️ Video/audio content may still identify you!"
	unsupportedText     = "Send me a photo or a video and I'll remove its metadata. Use /help for details."
	rateLimitedText     = "⏳ Too many files at once. Please wait a minute and try again."
	genericErrorText    = "❌ An error occurred. Please try again."
)

func welcomeText(s config.SanitizerConfig) string {
	var b strings.Builder
	b.WriteString("🔒 *SafeSend - Metadata Removal Bot*\n\n")
	b.WriteString("Send me photos or videos and I'll remove all metadata to protect your privacy.\n\n")
	b.WriteString("⚠️ *What metadata is removed:*\n")
	b.WriteString("• GPS location data\n")
	b.WriteString("• Device information (camera, phone model)\n")
	b.WriteString("• Timestamps (when photo/video was taken)\n")
	b.WriteString("• Camera settings (ISO, aperture, etc.)\n")
	b.WriteString("• Software information\n")
	b.WriteString("• Thumbnail images\n\n")
	b.WriteString("📋 *Limits:*\n")
	b.WriteString("• Max file size: " + humanize.IBytes(uint64(s.MaxFileSize)) + "\n")
	b.WriteString("• Images: " + joinKeys(s.ImageFormatSet()) + "\n")
	b.WriteString("• Videos: " + joinKeys(s.VideoExtensionSet()) + "\n\n")
	b.WriteString("🔐 *Privacy:*\n")
	b.WriteString("• Files are processed and deleted immediately\n")
	b.WriteString("• No logs of your media are kept\n")
	b.WriteString("• Use /help for security tips")
	return b.String()
}

const helpText = "📖 *How to use:*\n\n" +
	"1. Send me a photo or video\n" +
	"2. I'll remove all metadata\n" +
	"3. You'll receive the cleaned file\n\n" +
	"Send images as a file to skip Telegram's own recompression.\n\n" +
	"⚠️ *Critical Security Tips:*\n\n" +
	"*Before taking photos/videos:*\n" +
	"• Turn OFF location services\n" +
	"• Use airplane mode if possible\n" +
	"• Remove SIM card for maximum safety\n\n" +
	"*Additional protection:*\n" +
	"• Use a VPN or Tor\n" +
	"• Avoid identifiable landmarks\n" +
	"• Check reflections in windows/mirrors\n" +
	"• Don't include faces without consent\n" +
	"• Remove distinctive clothing/items\n" +
	"• Be aware of background sounds in videos\n\n" +
	"*After cleaning:*\n" +
	"• Verify metadata is removed\n" +
	"• Share through encrypted channels\n\n" +
	"⚡ *Remember:* This removes metadata, but visual content can still identify locations/people!"

func processingText(kind media.MediaType) string {
	if kind == media.MediaTypeVideo {
		return processingVideoText
	}
	return processingPhotoText
}

func doneCaption(kind media.MediaType) string {
	if kind == media.MediaTypeVideo {
		return videoDoneCaption
	}
	return photoDoneCaption
}

func failureText(reason string) string {
	return "❌ " + reason
}

func joinKeys(set map[string]struct{}) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
