package codegen

import (
	"context"
	"crypto/rand"
	"strings"

	"github.com/BearBump/MarkBox/internal/models"
	"github.com/pkg/errors"
)

// Алфавит суффикса: 36 символов, длина 16. Вероятность коллизии
// ничтожна, но существование кода всё равно проверяется в БД.
const (
	suffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	suffixLength   = 16
)

type Repository interface {
	FilterExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error)
}

type Generator struct {
	repo Repository

	prefix    string
	separator string

	// Бюджеты попыток. Для одиночной генерации — проверка существования
	// на каждую попытку; для батча — до oversample×quantity локальных
	// кандидатов на раунд и один bulk-запрос в БД на раунд.
	singleAttempts int
	oversample     int
	batchRounds    int
}

func New(repo Repository, prefix, separator string) *Generator {
	if prefix == "" {
		prefix = "MB"
	}
	if separator == "" {
		separator = "-"
	}
	return &Generator{
		repo:           repo,
		prefix:         prefix,
		separator:      separator,
		singleAttempts: 5,
		oversample:     10,
		batchRounds:    5,
	}
}

func (g *Generator) WithBudget(singleAttempts, oversample, batchRounds int) *Generator {
	if singleAttempts > 0 {
		g.singleAttempts = singleAttempts
	}
	if oversample > 0 {
		g.oversample = oversample
	}
	if batchRounds > 0 {
		g.batchRounds = batchRounds
	}
	return g
}

// Байты >= 252 отбрасываются: 252 — наибольшее кратное 36 в байте,
// иначе остаток от деления перекашивает распределение к началу алфавита.
const unbiasedLimit = 252

func (g *Generator) randomSuffix() (string, error) {
	var sb strings.Builder
	sb.Grow(suffixLength)
	buf := make([]byte, suffixLength)
	for sb.Len() < suffixLength {
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "crypto rand")
		}
		for _, v := range buf {
			if v >= unbiasedLimit {
				continue
			}
			sb.WriteByte(suffixAlphabet[int(v)%len(suffixAlphabet)])
			if sb.Len() == suffixLength {
				break
			}
		}
	}
	return sb.String(), nil
}

func (g *Generator) buildCode(productCode string) (string, error) {
	suffix, err := g.randomSuffix()
	if err != nil {
		return "", err
	}
	return g.prefix + productCode + g.separator + suffix, nil
}

func (g *Generator) GenerateOne(ctx context.Context, productCode string) (string, error) {
	for i := 0; i < g.singleAttempts; i++ {
		code, err := g.buildCode(productCode)
		if err != nil {
			return "", err
		}
		existing, err := g.repo.FilterExistingCodes(ctx, []string{code})
		if err != nil {
			return "", err
		}
		if _, taken := existing[code]; !taken {
			return code, nil
		}
	}
	return "", errors.Wrapf(models.ErrGenerationExhausted, "after %d attempts", g.singleAttempts)
}

// GenerateBatch генерирует quantity уникальных кодов: кандидаты
// дедуплицируются локально через set, существование проверяется одним
// bulk-запросом на раунд, недобор догенерируется следующим раундом.
func (g *Generator) GenerateBatch(ctx context.Context, productCode string, quantity int) ([]string, error) {
	if quantity <= 0 {
		return nil, errors.New("quantity must be positive")
	}

	accepted := make([]string, 0, quantity)
	taken := make(map[string]struct{}, quantity)

	for round := 0; round < g.batchRounds && len(accepted) < quantity; round++ {
		need := quantity - len(accepted)

		candidates := make([]string, 0, need)
		seen := make(map[string]struct{}, need)
		for attempts := 0; len(candidates) < need && attempts < need*g.oversample; attempts++ {
			code, err := g.buildCode(productCode)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[code]; dup {
				continue
			}
			if _, dup := taken[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			candidates = append(candidates, code)
		}
		if len(candidates) == 0 {
			break
		}

		existing, err := g.repo.FilterExistingCodes(ctx, candidates)
		if err != nil {
			return nil, err
		}
		for _, code := range candidates {
			if _, collision := existing[code]; collision {
				continue
			}
			taken[code] = struct{}{}
			accepted = append(accepted, code)
			if len(accepted) == quantity {
				break
			}
		}
	}

	if len(accepted) < quantity {
		return nil, errors.Wrapf(models.ErrGenerationExhausted,
			"got %d of %d after %d rounds", len(accepted), quantity, g.batchRounds)
	}
	return accepted, nil
}
