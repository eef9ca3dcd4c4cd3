package dispatch

import "fmt"

func cleanAirMessage(name string, aqi int) string {
	return fmt.Sprintf("🌿 <b>The air cleared up!</b>\nAQI near %s is now <b>%d</b>. A good moment to air out or head outside.", name, aqi)
}

func safetyNetMessage(name string, aqi int) string {
	return fmt.Sprintf("⚠️ <b>Air quality dropped again.</b>\nAQI near %s climbed to <b>%d</b>. Consider closing the windows.", name, aqi)
}

func expiryMessage() string {
	return "Your air quality subscription has expired. Subscribe again any time to keep getting updates."
}
