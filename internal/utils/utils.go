package utils

import "math"

// RoundCents rounds a money amount to two decimal places.
func RoundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

// IsValidPrice проверяет, что цена положительная и не мельче копейки
func IsValidPrice(price float64) bool {
	if price <= 0 {
		return false
	}
	return RoundCents(price) == price
}
