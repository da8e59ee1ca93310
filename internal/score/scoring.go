package score

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/errors"
)

// MaxSpeedBonus is the bonus for an answer submitted the instant the question opens.
const MaxSpeedBonus = 500

// Policy decides how a partially right selection is credited.
type Policy int

const (
	// PartialCredit credits (right picks - wrong picks) / correct options, floored at zero.
	PartialCredit Policy = iota
	// AllOrNothing gives full credit only for the exact correct set.
	AllOrNothing
)

func (p Policy) String() string {
	switch p {
	case AllOrNothing:
		return "all_or_nothing"
	default:
		return "partial_credit"
	}
}

type Input struct {
	Selected   []int64
	Correct    []int64
	AnswerMs   int
	TotalMs    int
	BasePoints int
	Policy     Policy
}

type Result struct {
	IsCorrect bool
	// Fraction is the credit multiplier in [0, 1].
	Fraction      decimal.Decimal
	PickedCorrect int
	PickedWrong   int
	CorrectTotal  int
	AnswerMs      int
	Base          int
	Bonus         int
	Awarded       int
}

// Score computes the points awarded for one answer. It has no side effects.
func Score(in Input) (Result, error) {
	correct := toSet(in.Correct)
	if len(correct) == 0 {
		return Result{}, errors.FailedPrecondition("question has no correct option")
	}

	selected := toSet(in.Selected)

	var t, w int
	for id := range selected {
		if _, ok := correct[id]; ok {
			t++
		} else {
			w++
		}
	}
	c := len(correct)

	res := Result{
		IsCorrect:     t == c && w == 0,
		PickedCorrect: t,
		PickedWrong:   w,
		CorrectTotal:  c,
		AnswerMs:      ClampAnswerMs(in.AnswerMs, in.TotalMs),
		Base:          max(in.BasePoints, 0),
	}
	res.Bonus = SpeedBonus(res.AnswerMs, in.TotalMs)

	// numerator / denominator of the credit fraction, kept as integers so the
	// product with the points is taken before dividing.
	num, den := t-w, c
	if in.Policy == AllOrNothing {
		num, den = 0, 1
		if res.IsCorrect {
			num = 1
		}
	}
	num = max(num, 0)

	res.Fraction = decimal.NewFromInt(int64(num)).Div(decimal.NewFromInt(int64(den)))
	res.Awarded = int(decimal.NewFromInt(int64(res.Base + res.Bonus)).
		Mul(decimal.NewFromInt(int64(num))).
		Div(decimal.NewFromInt(int64(den))).
		Floor().
		IntPart())

	return res, nil
}

// SpeedBonus is floor(remaining / total * MaxSpeedBonus). No window means no bonus.
func SpeedBonus(answerMs, totalMs int) int {
	if totalMs <= 0 {
		return 0
	}

	remaining := totalMs - ClampAnswerMs(answerMs, totalMs)

	return int(decimal.NewFromInt(int64(remaining)).
		Mul(decimal.NewFromInt(MaxSpeedBonus)).
		Div(decimal.NewFromInt(int64(totalMs))).
		Floor().
		IntPart())
}

// ClampAnswerMs clamps ms to [0, totalMs]. Without a window only the lower bound applies.
func ClampAnswerMs(ms, totalMs int) int {
	ms = max(ms, 0)
	if totalMs > 0 {
		ms = min(ms, totalMs)
	}

	return ms
}

func toSet(ids []int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}

	return m
}
