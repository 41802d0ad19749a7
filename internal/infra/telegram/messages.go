package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"emby-entitlement-bot/internal/domain"
	"emby-entitlement-bot/internal/domain/model"
	"emby-entitlement-bot/internal/usecase"
)

func helpText(admin bool) string {
	var sb strings.Builder
	sb.WriteString("Available commands:\n")
	sb.WriteString("/register <code> - redeem a register code and create your account\n")
	sb.WriteString("/renew <code> - redeem a renew code to extend your account\n")
	sb.WriteString("/my_info - show your account and expiry\n")
	if admin {
		sb.WriteString("\nAdmin commands:\n")
		sb.WriteString("/user_list - list all accounts\n")
		sb.WriteString("/code_list - list unused codes\n")
		sb.WriteString("/token_gen <days> [count] - generate register codes\n")
		sb.WriteString("/renew_gen <days> [count] - generate renew codes\n")
		sb.WriteString("/renew_user <emby_username> <days> - grant days directly\n")
		sb.WriteString("/user_del <emby_username> - delete an account\n")
	}
	return sb.String()
}

func registrationMessage(res *usecase.RegistrationResult, serverURL string) string {
	return fmt.Sprintf(
		"🎉 Account created!\n\nServer: %s\nUsername: %s\nPassword: %s\nExpires: %s\n\nPlease change your password after the first login.",
		serverURL,
		res.Binding.EmbyUsername,
		res.Password,
		res.Binding.ExpiresAt.Format("2006-01-02 15:04 MST"),
	)
}

func renewalMessage(res *usecase.RenewalResult) string {
	head := fmt.Sprintf("✅ Renewed for %d days.", res.Days)
	if res.Reactivated {
		head = fmt.Sprintf("✅ Account re-enabled and renewed for %d days.", res.Days)
	}
	return fmt.Sprintf("%s\nNew expiry: %s",
		head, res.Binding.ExpiresAt.Format("2006-01-02 15:04 MST"))
}

func infoMessage(b *model.AccountBinding, now time.Time) string {
	state := string(b.State)
	if b.State == model.BindingStateActive && b.Expired(now) {
		state = "expired"
	}
	return fmt.Sprintf(
		"👤 Account: %s\nStatus: %s\nExpires: %s\nDays left: %d",
		b.EmbyUsername,
		state,
		b.ExpiresAt.Format("2006-01-02 15:04 MST"),
		b.DaysLeft(now),
	)
}

func userListMessage(bindings []*model.AccountBinding, now time.Time) string {
	if len(bindings) == 0 {
		return "No accounts."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Accounts (%d):\n", len(bindings))
	for _, b := range bindings {
		marker := "✅"
		if b.State == model.BindingStateDisabled || b.Expired(now) {
			marker = "⛔"
		}
		fmt.Fprintf(&sb, "%s %s - expires %s (%d days)\n",
			marker, b.EmbyUsername, b.ExpiresAt.Format("2006-01-02"), b.DaysLeft(now))
	}
	return sb.String()
}

func codesIssuedMessage(kind model.CodeKind, days int, tokens []string) string {
	label := "register"
	if kind == model.CodeKindRenew {
		label = "renew"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generated %d %s code(s) worth %d days:\n", len(tokens), label, days)
	for _, tok := range tokens {
		sb.WriteString(tok)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func codeListMessage(codes []*model.RedemptionCode) string {
	if len(codes) == 0 {
		return "No unused codes."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Unused codes (%d):\n", len(codes))
	for _, c := range codes {
		fmt.Fprintf(&sb, "%s - %s, %d days\n", c.Code, c.Kind, c.GrantDays)
	}
	return sb.String()
}

func adminRegistrationNotice(res *usecase.RegistrationResult) string {
	return fmt.Sprintf("🆕 New registration: %s (tg %d), expires %s.",
		res.Binding.EmbyUsername,
		res.Binding.TelegramID,
		res.Binding.ExpiresAt.Format("2006-01-02"))
}

// renderError maps domain errors to user-facing replies. Anything unexpected
// gets a generic message so internals never leak into chat.
func renderError(err error) string {
	switch {
	case errors.Is(err, domain.ErrCodeNotFound):
		return "❌ That code does not exist."
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		return "❌ That code has already been used."
	case errors.Is(err, domain.ErrCodeKindMismatch):
		return "❌ That code cannot be used with this command."
	case errors.Is(err, domain.ErrBindingAlreadyExists):
		return "❌ You already have an account. Use /renew to extend it."
	case errors.Is(err, domain.ErrBindingNotFound):
		return "❌ No account found. Use /register <code> first."
	case errors.Is(err, domain.ErrNotAuthorized):
		return "❌ You are not authorized to use this command."
	case errors.Is(err, domain.ErrInvalidArgument):
		return "❌ Invalid arguments. Send /help for usage."
	case errors.Is(err, domain.ErrProvisioningFailed):
		return "⚠️ The media server rejected the operation. Your code was consumed; contact an admin."
	default:
		return "⚠️ Something went wrong. Please try again later."
	}
}
