// Package token signs and verifies the bearer tokens of players and hosts.
package token

import (
	stderrors "errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/livequiz/internal/errors"
)

const (
	AudiencePlayer = "livequiz.player"
	AudienceHost   = "livequiz.host"

	DefaultPlayerTTL = 6 * time.Hour
	DefaultHostTTL   = 12 * time.Hour
)

type Config struct {
	Secret    string
	PlayerTTL time.Duration
	HostTTL   time.Duration
	Now       func() time.Time
}

type Issuer struct {
	secret    []byte
	playerTTL time.Duration
	hostTTL   time.Duration
	now       func() time.Time
}

func NewIssuer(c Config) *Issuer {
	if c.PlayerTTL <= 0 {
		c.PlayerTTL = DefaultPlayerTTL
	}
	if c.HostTTL <= 0 {
		c.HostTTL = DefaultHostTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Issuer{
		secret:    []byte(c.Secret),
		playerTTL: c.PlayerTTL,
		hostTTL:   c.HostTTL,
		now:       c.Now,
	}
}

// PlayerClaims bind a player of one session to the browser that joined.
type PlayerClaims struct {
	Pin      string `json:"pin"`
	PlayerID int64  `json:"player_id"`
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// IssuePlayer returns a signed player token and its expiry.
func (i *Issuer) IssuePlayer(pin string, playerID int64, clientID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.playerTTL)

	s, err := i.sign(PlayerClaims{
		Pin:      pin,
		PlayerID: playerID,
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(playerID, 10),
			Audience:  jwt.ClaimStrings{AudiencePlayer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	return s, exp, err
}

// VerifyPlayer checks signature, expiry and that the token was issued for pin.
func (i *Issuer) VerifyPlayer(token, pin string) (*PlayerClaims, error) {
	var c PlayerClaims
	if err := i.parse(token, AudiencePlayer, &c); err != nil {
		return nil, err
	}

	if c.Pin != pin {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token is for another session"))
	}

	return &c, nil
}

// IssueHost mints a host token. In production hosts get their tokens from the LMS.
func (i *Issuer) IssueHost(hostRef string) (string, error) {
	now := i.now()

	return i.sign(jwt.RegisteredClaims{
		Subject:   hostRef,
		Audience:  jwt.ClaimStrings{AudienceHost},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.hostTTL)),
	})
}

// VerifyHost returns the host reference carried by a host token.
func (i *Issuer) VerifyHost(token string) (string, error) {
	var c jwt.RegisteredClaims
	if err := i.parse(token, AudienceHost, &c); err != nil {
		return "", err
	}

	if c.Subject == "" {
		return "", errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token has no subject"))
	}

	return c.Subject, nil
}

func (i *Issuer) sign(c jwt.Claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", errors.Internal(err)
	}

	return s, nil
}

func (i *Issuer) parse(token, audience string, c jwt.Claims) error {
	if token == "" {
		return errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing token"))
	}

	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	_, err := p.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})

	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, jwt.ErrTokenExpired):
		return errors.New(errors.CodeUnauthenticated, errors.WithMessagef("token expired"), errors.WithCause(err))
	default:
		return errors.New(errors.CodeUnauthenticated, errors.WithMessagef("bad token"), errors.WithCause(err))
	}
}
