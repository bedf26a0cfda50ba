package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	firebase "firebase.google.com/go/v4"
	"github.com/sirupsen/logrus"

	"ridedispatch/internal/config"
	"ridedispatch/internal/infra"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/order"
	"ridedispatch/internal/notify"
)

// backends holds the stores, outbound channels and verifier chosen by config.
type backends struct {
	orders   order.Store
	presence location.Store
	verifier infra.TokenVerifier
	kafka    *notify.KafkaPublisher
	fcm      *notify.FCMNotifier
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func connect(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*backends, error) {
	b := &backends{}
	ok := false
	defer func() {
		if !ok {
			b.close()
		}
	}()

	var app *firebase.App
	if cfg.Firebase.ProjectID != "" {
		var err error
		app, err = infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return nil, err
		}
	}

	if err := b.openOrders(ctx, cfg, app, log); err != nil {
		return nil, err
	}
	if err := b.openPresence(ctx, cfg, app, log); err != nil {
		return nil, err
	}
	if err := b.openVerifier(ctx, cfg, app); err != nil {
		return nil, err
	}

	if len(cfg.Kafka.Brokers) > 0 {
		b.kafka = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		b.closers = append(b.closers, closeLogged(b.kafka, log, "kafka"))
		log.WithField("brokers", cfg.Kafka.Brokers).Info("publishing order events to kafka")
	}
	if app != nil {
		client, err := infra.NewMessaging(ctx, app)
		if err != nil {
			return nil, err
		}
		b.fcm = notify.NewFCMNotifier(client)
	}

	ok = true
	return b, nil
}

func (b *backends) openOrders(ctx context.Context, cfg config.Config, app *firebase.App, log logrus.FieldLogger) error {
	switch cfg.Store.Orders {
	case "postgres":
		if cfg.DB.Migrate {
			if err := infra.Migrate(cfg.DB.DSN); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, pool.Close)
		b.orders = order.NewPostgresStore(pool)
	case "firestore":
		client, err := infra.NewFirestore(ctx, app)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, closeLogged(client, log, "firestore"))
		b.orders = order.NewFirestoreStore(client).WithLogger(log.WithField("store", "orders"))
	default:
		b.orders = order.NewMemoryStore()
	}
	log.WithField("backend", cfg.Store.Orders).Info("order store ready")
	return nil
}

func (b *backends) openPresence(ctx context.Context, cfg config.Config, app *firebase.App, log logrus.FieldLogger) error {
	switch cfg.Store.Presence {
	case "redis":
		client, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, closeLogged(client, log, "redis"))
		b.presence = location.NewRedisStore(client).WithLogger(log.WithField("store", "presence"))
	case "firestore":
		client, err := infra.NewFirestore(ctx, app)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, closeLogged(client, log, "firestore"))
		b.presence = location.NewFirestoreStore(client).WithLogger(log.WithField("store", "presence"))
	default:
		b.presence = location.NewMemoryStore()
	}
	log.WithField("backend", cfg.Store.Presence).Info("presence store ready")
	return nil
}

// openVerifier accepts Firebase ID tokens and, when a secret is set,
// HS256 service tokens.
func (b *backends) openVerifier(ctx context.Context, cfg config.Config, app *firebase.App) error {
	var chain infra.ChainVerifier
	if app != nil {
		v, err := infra.NewFirebaseVerifier(ctx, app)
		if err != nil {
			return err
		}
		chain = append(chain, v)
	}
	if cfg.Auth.JWTSecret != "" {
		chain = append(chain, infra.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer))
	}
	if len(chain) == 0 {
		return errors.New("no token verifier: set firebase.project_id or auth.jwt_secret")
	}
	b.verifier = chain
	return nil
}

func closeLogged(c io.Closer, log logrus.FieldLogger, name string) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.WithError(err).WithField("backend", name).Warn("close failed")
		}
	}
}
