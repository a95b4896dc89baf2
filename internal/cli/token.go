package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/paiban/dispatch/internal/security"
	"github.com/paiban/dispatch/pkg/dispatcher"
)

// TokenCmd 签发调用方令牌
func TokenCmd() *cobra.Command {
	var (
		subject string
		kind    string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "用配置中的密钥签发调用方令牌",
		Example: `  dispatchd token --subject intake --kind auto
  dispatchd token --subject alice --kind manual --role dispatcher --ttl 12h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			switch dispatcher.CallerKind(kind) {
			case dispatcher.CallerAuto, dispatcher.CallerManual:
			default:
				return fmt.Errorf("kind 必须为 auto 或 manual: %s", kind)
			}
			if subject == "" {
				return errors.New("需要 --subject")
			}
			tokens, err := security.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			raw, err := tokens.Issue(subject, kind, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "调用方标识")
	cmd.Flags().StringVar(&kind, "kind", string(dispatcher.CallerAuto), "调用方类型: auto 或 manual")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "角色，可重复")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "有效期")
	return cmd
}
