package commands

import (
	"fmt"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/middleware"
	"github.com/spf13/cobra"
)

var (
	tokenRole  string
	tokenEmail string
	tokenName  string
	tokenTTL   time.Duration
)

// NewTokenCmd creates the token command.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a signed bearer token for the chat API",
		Long: `Sign an HS256 token with JWT_SECRET and JWT_ISSUER for the given user id.
Tokens with --role admin may start ingestion jobs through the API.`,
		Example: `  supportctl token user-42
  supportctl token ops --role admin --ttl 1h`,
		Args: cobra.ExactArgs(1),
		RunE: runToken,
	}
	cmd.Flags().StringVar(&tokenRole, "role", "user", "Role claim")
	cmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim")
	cmd.Flags().StringVar(&tokenName, "name", "", "Name claim")
	cmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default: $JWT_EXPIRATION_HOURS)")
	return cmd
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = time.Duration(cfg.JWTExpiration) * time.Hour
	}

	token, err := middleware.GenerateJWT(&domain.UserContext{
		UserID: args[0],
		Email:  tokenEmail,
		Name:   tokenName,
		Role:   tokenRole,
	}, middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: ttl,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
