package app

import (
	"math"
	"time"
)

// RoundAmount floors x to prec decimal places so campaign totals never show
// more than was actually raised.
func RoundAmount(x float64, prec int) float64 {
	pow := math.Pow(10, float64(prec))
	return math.Floor(x*pow) / pow
}

func CurrentMessageTime() string {
	t := time.Now()
	return t.Format("02.01.2006 15:04")
}

func RemoveTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
