package http

// User-facing messages, in the product language. Authentication failures all
// share msgInvalidCredentials so the endpoint leaks nothing about which part
// was wrong.
const (
	msgInvalidCredentials = "Ongeldige inloggegevens"
	msgCaptchaRequired    = "Captcha vereist"
	msgUnauthorized       = "Niet geautoriseerd"
	msgForbidden          = "Geen toegang"
	msgInvalidInput       = "Ongeldige invoer"
	msgInvalidToken       = "Deze link is ongeldig of verlopen"
	msgInvalidCode        = "Ongeldige verificatiecode"
	msgEmailTaken         = "Er bestaat al een account met dit e-mailadres"
	msgTenantFull         = "Het maximale aantal accounts voor dit bedrijf is bereikt"
	msgPasswordPolicy     = "Het wachtwoord moet minimaal 8 tekens lang zijn en een hoofdletter, kleine letter en cijfer bevatten"
	msgResetRequested     = "Als het e-mailadres bekend is, is er een herstelmail verstuurd"
	msgTooManyRequests    = "Te veel verzoeken. Probeer het later opnieuw."
	msgLastAdmin          = "De laatste platformbeheerder kan niet worden verwijderd"
	msgServerError        = "Er is iets misgegaan. Probeer het later opnieuw."
)
