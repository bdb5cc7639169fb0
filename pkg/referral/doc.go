// Package referral implements referral codes and their redemption.
//
// A user holds at most one active code. Generating a new code deactivates the
// previous one in the same write. Codes look like REF1234AB9Z: the last four
// digits of the user id followed by four random characters.
//
// Redemption is ordered so that a retry after any partial failure converges:
//
//  1. The code must exist and be active, and must not belong to the redeemer.
//  2. A referral grant row is inserted in status pending. The unique
//     (referrer, referee) pair is the idempotency claim.
//  3. Rewards are credited to both sides with idempotency keys derived from
//     the grant id.
//  4. The referee receives a temporary plan upgrade whose expiry runs as an
//     expire_grant deferred task.
//  5. The grant is marked completed.
//
// A pending grant found on retry resumes from step 3. A completed grant
// yields ErrDuplicateReferralPair.
//
// The leaderboard counts completed grants per referrer, most referrals first,
// ties broken by the earliest referral.
package referral
