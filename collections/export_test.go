package collections

var JitteredInterval = jitteredInterval
