package qrproto

// VipLockedMessage is the message the QR handlers return when the target
// locker is VIP-bound: spec §4.7's GET returns 423 with "VIP dolap. QR
// kapalı", and the POST path short-circuits with the same status.
const VipLockedMessage = "VIP dolap. QR kapalı"
