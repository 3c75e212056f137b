package app

import (
	"fmt"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/config"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/dkim"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport/logsink"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport/smtp"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport/telegram"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// newTransport builds the delivery channel selected by transport.driver.
// Transports are fixed for the life of the process; a driver change needs a
// restart.
func newTransport(cfg *config.Config, log logx.Logger) (transport.Transport, error) {
	switch driver := cfg.TransportDriver(); driver {
	case "log":
		return logsink.New(cfg.Transport.Log.FailEvery, log.With(logx.String("comp", "transport.log"))), nil

	case "smtp":
		sc, err := mapSMTPConfig(cfg)
		if err != nil {
			return nil, err
		}
		var signer *dkim.Signer
		if opts, ok := mapDKIMOptions(cfg); ok {
			if signer, err = dkim.New(opts); err != nil {
				return nil, fmt.Errorf("dkim: %w", err)
			}
			log.Info("dkim signing enabled", logx.String("domain", signer.Domain()), logx.String("selector", signer.Selector()))
		}
		return smtp.New(sc, signer, log.With(logx.String("comp", "transport.smtp")))

	case "telegram":
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		return telegram.New(tc, log.With(logx.String("comp", "transport.telegram")))

	default:
		return nil, fmt.Errorf("unknown transport driver: %s", driver)
	}
}
