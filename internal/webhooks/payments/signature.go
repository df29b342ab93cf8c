package paymentwebhook

// SignatureHeader carries the provider's "t=<unix>,v1=<hmac>" signature.
const SignatureHeader = "X-Payment-Signature"
