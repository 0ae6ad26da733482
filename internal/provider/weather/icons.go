package weather

// Icon names a glyph in the renderer's icon table
type Icon string

const (
	IconSunny           Icon = "sunny"
	IconPartlyCloudyDay Icon = "partly_cloudy_day"
	IconCloud           Icon = "cloud"
	IconCloudy          Icon = "cloudy"
	IconFoggy           Icon = "foggy"
	IconRainyLight      Icon = "rainy_light"
	IconRainy           Icon = "rainy"
	IconRainyHeavy      Icon = "rainy_heavy"
	IconAcUnit          Icon = "ac_unit"
	IconSevereCold      Icon = "severe_cold"
	IconWeatherSnowy    Icon = "weather_snowy"
	IconSnowing         Icon = "snowing"
	IconSnowingHeavy    Icon = "snowing_heavy"
	IconGrain           Icon = "grain"
	IconThunderstorm    Icon = "thunderstorm"
	IconHelp            Icon = "help"
)

// IconForCode maps a WMO weather interpretation code to an icon. Unknown
// codes map to IconHelp.
func IconForCode(code int) Icon {
	switch code {
	case 0:
		return IconSunny
	case 1, 2:
		return IconPartlyCloudyDay
	case 3:
		return IconCloudy
	case 45, 48:
		return IconFoggy
	case 51, 61, 80:
		return IconRainyLight
	case 53, 63, 81:
		return IconRainy
	case 55, 65, 82:
		return IconRainyHeavy
	case 56, 66:
		return IconAcUnit
	case 57, 67:
		return IconSevereCold
	case 71, 85:
		return IconWeatherSnowy
	case 73:
		return IconSnowing
	case 75, 86:
		return IconSnowingHeavy
	case 77:
		return IconGrain
	case 95, 96, 99:
		return IconThunderstorm
	default:
		return IconHelp
	}
}
