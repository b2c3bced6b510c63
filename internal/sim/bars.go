package sim

import "synthex/internal/domain"

// foldBar folds the current price into the in-progress candle at the
// given simulated instant. On a bar-duration boundary the candle is
// closed into history (evicting the oldest past the cap) and a new one
// opens at the current price.
//
// Must run once per simulated second inside the replay loop, so candles
// reflect the simulated timeline rather than the request arrival pattern.
func foldBar(s *domain.MarketState) {
	instant := s.LastUpdatedMS
	price := s.Price

	if s.CurrentBar == nil || instant-s.CurrentBar.StartMS >= domain.BarDurationMS {
		if s.CurrentBar != nil {
			s.Bars = append(s.Bars, *s.CurrentBar)
			if len(s.Bars) > domain.BarCap {
				s.Bars = s.Bars[len(s.Bars)-domain.BarCap:]
			}
		}
		s.CurrentBar = &domain.Candle{
			StartMS: instant,
			Open:    price,
			High:    price,
			Low:     price,
			Close:   price,
		}
		return
	}

	if price > s.CurrentBar.High {
		s.CurrentBar.High = price
	}
	if price < s.CurrentBar.Low {
		s.CurrentBar.Low = price
	}
	s.CurrentBar.Close = price
}
